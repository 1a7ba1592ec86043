package pool

import "flag"

// Config controls a Pool's worker count and submission backpressure.
type Config struct {
	MaxWorkers int `yaml:"max_workers,omitempty"`
	QueueDepth int `yaml:"queue_depth,omitempty"`
}

// RegisterFlagsWithPrefix registers cfg's fields on f, prefixed. The core
// module never parses flags itself; this exists so an embedding
// application can fold the executor's knobs into its own flag surface.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxWorkers, prefix+"pool.max-workers", 30, "Number of goroutines backing the blocking-task executor.")
	f.IntVar(&cfg.QueueDepth, prefix+"pool.queue-depth", 10000, "Maximum number of queued-but-not-yet-running tasks.")
}

func defaultConfig() *Config {
	return &Config{
		MaxWorkers: 30,
		QueueDepth: 10000,
	}
}
