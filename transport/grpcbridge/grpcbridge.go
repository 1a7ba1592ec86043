// Package grpcbridge adapts a *grpc.Server's accept loop to the same
// dskit/services.Service lifecycle the Event Loop Pool uses, the
// non-HTTP protocol server example from the teacher's
// server_service.go. grpc's own connection model is one goroutine per
// net.Conn with its own read/write deadlines, which is a different
// concurrency model than the single-goroutine-per-Loop one the
// Channel/Pipeline core uses for nonblocking fds; grpcbridge therefore
// runs the *grpc.Server* against its own net.Listener rather than
// multiplexing its connections through a Loop-registered Channel, and
// integrates at the lifecycle level instead — mirroring
// NewServerService's runFn/stoppingFn shape exactly.
package grpcbridge

import (
	"context"
	"fmt"
	"net"

	"github.com/grafana/dskit/services"
	"google.golang.org/grpc"
)

// NewService returns a services.Service that serves server on a TCP
// listener bound to address for its entire running lifetime, and
// gracefully stops it on shutdown.
func NewService(server *grpc.Server, address string) (services.Service, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("grpcbridge: listen %s: %w", address, err)
	}

	serveDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		go func() {
			defer close(serveDone)
			serveDone <- server.Serve(ln)
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serveDone:
			if err != nil {
				return err
			}
			return fmt.Errorf("grpcbridge: server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		server.GracefulStop()
		<-serveDone
		return nil
	}

	return services.NewBasicService(nil, runFn, stoppingFn), nil
}
