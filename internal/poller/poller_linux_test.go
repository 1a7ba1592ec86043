//go:build linux

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollSelectorReportsReadability(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(fds[0], InterestRead, "reader"))

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	events, err := s.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fds[0], events[0].Fd)
	assert.Equal(t, "reader", events[0].UserData)
	assert.True(t, events[0].Readable)
}

func TestEpollSelectorWaitTimesOutWithNoEvents(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	events, err := s.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEpollSelectorWakeInterruptsWait(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		s.Wait(5 * time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Wake()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake did not interrupt Wait")
	}
}

func TestEpollSelectorRemoveIsIdempotent(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(fds[0], InterestRead, nil))
	require.NoError(t, s.Remove(fds[0]))
	require.NoError(t, s.Remove(fds[0]))
}
