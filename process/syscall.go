//go:build linux

package process

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// wrapSyscall turns a failed OS call into a descriptive error. The wrap
// records the call site (pkg/errors attaches the stack) and the message
// carries the errno and its human-readable description, so callers never
// need to interpret raw OS errors themselves.
func wrapSyscall(op string, err error) error {
	if errno, ok := err.(syscall.Errno); ok {
		return errors.Wrapf(err, "%s failed with errno %d (%s)", op, int(errno), unix.ErrnoName(errno))
	}
	return errors.Wrapf(err, "%s failed", op)
}

// pollRead polls fd for readability with poll(2) timeout semantics:
// negative blocks indefinitely, zero returns immediately, positive waits up
// to that many milliseconds. Interruptions by signals are retried with the
// remaining time; the Go runtime's preemption signal makes EINTR routine
// rather than exceptional here.
func pollRead(fd int, timeoutMs int) (ready bool, err error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			if timeoutMs > 0 {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return false, nil
				}
				timeoutMs = int(remaining / time.Millisecond)
				if timeoutMs == 0 {
					timeoutMs = 1
				}
			}
			continue
		}
		if err != nil {
			return false, wrapSyscall("poll", err)
		}
		return n == 1, nil
	}
}
