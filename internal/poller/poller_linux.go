//go:build linux

package poller

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollSelector implements Selector with epoll_create1/epoll_ctl/epoll_wait.
type epollSelector struct {
	fd int

	mu       sync.Mutex
	userData map[int]interface{}

	wakeR, wakeW int // self-pipe used to interrupt a blocked Wait
}

// New returns the Selector appropriate for the running GOOS.
func New() (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	r, w, err := pipe2CloExec()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	s := &epollSelector{
		fd:       epfd,
		userData: make(map[int]interface{}),
		wakeR:    r,
		wakeW:    w,
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(r),
	}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func pipe2CloExec() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (s *epollSelector) Add(fd int, interest Interest, userData interface{}) error {
	s.mu.Lock()
	s.userData[fd] = userData
	s.mu.Unlock()

	return unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (s *epollSelector) Modify(fd int, interest Interest) error {
	return unix.EpollCtl(s.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (s *epollSelector) Remove(fd int) error {
	s.mu.Lock()
	delete(s.userData, fd)
	s.mu.Unlock()

	err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Wake interrupts a blocked Wait call, used by the loop to force a
// return to the task-queue drain as soon as a task is submitted.
func (s *epollSelector) Wake() {
	var b [1]byte
	unix.Write(s.wakeW, b[:])
}

func (s *epollSelector) Wait(timeout time.Duration) ([]Event, error) {
	events := make([]unix.EpollEvent, 128)
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}

	n, err := unix.EpollWait(s.fd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == s.wakeR {
			var buf [64]byte
			for {
				if _, err := unix.Read(s.wakeR, buf[:]); err != nil {
					break
				}
			}
			continue
		}

		s.mu.Lock()
		ud := s.userData[fd]
		s.mu.Unlock()

		mask := events[i].Events
		out = append(out, Event{
			Fd:       fd,
			UserData: ud,
			Readable: mask&(unix.EPOLLIN|unix.EPOLLHUP) != 0,
			Writable: mask&unix.EPOLLOUT != 0,
			Error:    mask&unix.EPOLLERR != 0,
		})
	}
	return out, nil
}

func (s *epollSelector) Close() error {
	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
	return unix.Close(s.fd)
}
