//go:build darwin

package poller

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueSelector implements Selector with kqueue/kevent.
type kqueueSelector struct {
	fd int

	mu       sync.Mutex
	userData map[int]interface{}
	interest map[int]Interest

	wakeR, wakeW int
}

// New returns the Selector appropriate for the running GOOS.
func New() (Selector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	r, w, err := pipe2CloExec()
	if err != nil {
		unix.Close(kq)
		return nil, err
	}
	s := &kqueueSelector{
		fd:       kq,
		userData: make(map[int]interface{}),
		interest: make(map[int]Interest),
		wakeR:    r,
		wakeW:    w,
	}
	_, err = unix.Kevent(kq, []unix.Kevent_t{
		{Ident: uint64(r), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR},
	}, nil, nil)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func pipe2CloExec() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)
	return fds[0], fds[1], nil
}

func (s *kqueueSelector) Add(fd int, interest Interest, userData interface{}) error {
	s.mu.Lock()
	s.userData[fd] = userData
	s.interest[fd] = interest
	s.mu.Unlock()
	return s.apply(fd, interest)
}

func (s *kqueueSelector) Modify(fd int, interest Interest) error {
	s.mu.Lock()
	s.interest[fd] = interest
	s.mu.Unlock()
	return s.apply(fd, interest)
}

// apply reconciles the kqueue registration for fd with the desired
// interest, adding or deleting each filter as needed. kqueue has no
// single "interest mask" update like epoll_ctl(MOD); each filter is
// toggled independently.
func (s *kqueueSelector) apply(fd int, interest Interest) error {
	var changes []unix.Kevent_t
	if interest&InterestRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if interest&InterestWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	_, err := unix.Kevent(s.fd, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (s *kqueueSelector) Remove(fd int) error {
	s.mu.Lock()
	delete(s.userData, fd)
	delete(s.interest, fd)
	s.mu.Unlock()

	_, err := unix.Kevent(s.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (s *kqueueSelector) Wake() {
	var b [1]byte
	unix.Write(s.wakeW, b[:])
}

func (s *kqueueSelector) Wait(timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	events := make([]unix.Kevent_t, 128)
	n, err := unix.Kevent(s.fd, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	byFd := make(map[int]*Event, n)
	var order []int
	for i := 0; i < n; i++ {
		fd := int(events[i].Ident)
		if fd == s.wakeR {
			var buf [64]byte
			for {
				if _, err := unix.Read(s.wakeR, buf[:]); err != nil {
					break
				}
			}
			continue
		}

		e, ok := byFd[fd]
		if !ok {
			s.mu.Lock()
			ud := s.userData[fd]
			s.mu.Unlock()
			e = &Event{Fd: fd, UserData: ud}
			byFd[fd] = e
			order = append(order, fd)
		}
		switch events[i].Filter {
		case unix.EVFILT_READ:
			e.Readable = true
		case unix.EVFILT_WRITE:
			e.Writable = true
		}
		if events[i].Flags&unix.EV_ERROR != 0 {
			e.Error = true
		}
	}

	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, *byFd[fd])
	}
	return out, nil
}

func (s *kqueueSelector) Close() error {
	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
	return unix.Close(s.fd)
}
