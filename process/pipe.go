//go:build linux

package process

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Pipe owns both ends of a unidirectional OS pipe. The zero value holds no
// descriptors; Init must be called before first use. A nil end is the
// "already closed / never opened" sentinel, so closing is idempotent and no
// descriptor is ever closed twice.
type Pipe struct {
	out *os.File // read end
	in  *os.File // write end
}

// Init creates a fresh OS pipe. Calling Init again without closing first
// leaks the previous ends - caller discipline required.
func (p *Pipe) Init() error {
	out, in, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "creating pipe")
	}
	p.out = out
	p.in = in
	return nil
}

// Out returns the read end, or nil if it was closed or never opened.
func (p *Pipe) Out() *os.File {
	return p.out
}

// In returns the write end, or nil if it was closed or never opened.
func (p *Pipe) In() *os.File {
	return p.in
}

// CloseOut closes the read end. Closing an already-closed end is a no-op.
// Close failures are logged, never returned: by the time close fails the
// descriptor is in an unusable state anyway, so the end is unconditionally
// marked closed.
func (p *Pipe) CloseOut() {
	closeEnd(&p.out)
}

// CloseIn closes the write end, with the same idempotency as CloseOut.
func (p *Pipe) CloseIn() {
	closeEnd(&p.in)
}

// Close closes both ends.
func (p *Pipe) Close() {
	p.CloseOut()
	p.CloseIn()
}

// Move transfers both ends to the returned pipe and leaves the receiver
// empty, so the two never alias the same descriptors.
func (p *Pipe) Move() Pipe {
	moved := *p
	*p = Pipe{}
	return moved
}

func closeEnd(f **os.File) {
	if *f == nil {
		return
	}
	if err := (*f).Close(); err != nil {
		var errno syscall.Errno
		if !errors.As(err, &errno) {
			log.Warnf("closing pipe end failed: %v", err)
		} else {
			switch errno {
			case unix.EBADF:
				log.Warnf("closing pipe end failed: bad file descriptor: %v", err)
			case unix.EINTR:
				log.Warnf("closing pipe end failed: interrupted by a signal: %v", err)
			case unix.EIO:
				log.Warnf("closing pipe end failed: I/O error: %v", err)
			default:
				log.Warnf("closing pipe end failed with errno %d: %v", int(errno), err)
			}
		}
	}
	*f = nil
}
