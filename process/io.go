//go:build linux

package process

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// outputBuffer accumulates every byte ever read from one child stream and
// remembers how far incremental reads have consumed it.
// Invariant: 0 <= consumed <= len(data).
type outputBuffer struct {
	data     []byte
	consumed int
}

// read returns either everything accumulated so far (whole) or only the
// bytes since the last consumption point, and marks everything consumed
// either way. A whole read never forgets previously-unconsumed data; a
// later whole read still returns everything since process start.
func (b *outputBuffer) read(whole bool) []byte {
	var out []byte
	if whole {
		out = b.data
	} else {
		out = b.data[b.consumed:]
	}
	b.consumed = len(b.data)
	return out
}

// take hands the whole accumulation to the caller and leaves the buffer
// empty.
func (b *outputBuffer) take() []byte {
	out := b.data
	b.data = nil
	b.consumed = 0
	return out
}

// SendToStdin writes data to the running child's standard input. Partial
// writes are completed before returning (os.File.Write loops internally);
// any underlying write error fails the call.
func (h *Handle) SendToStdin(data []byte) error {
	if !h.ManagesProcess() {
		return errors.WithStack(ErrNotManaged)
	}
	if h.stdin.In() == nil {
		return errors.WithStack(ErrStdinClosed)
	}
	if h.state != Running {
		return errors.WithStack(ErrNotRunning)
	}
	if _, err := h.stdin.In().Write(data); err != nil {
		return errors.Wrap(err, "writing to child stdin")
	}
	return nil
}

// CloseStdin closes the child's standard input, delivering EOF to it.
// Calling it again fails, as the end is then already gone.
func (h *Handle) CloseStdin() error {
	if !h.ManagesProcess() {
		return errors.WithStack(ErrNotManaged)
	}
	if h.state != Running || h.stdin.In() == nil {
		return errors.WithStack(ErrStdinClosed)
	}
	h.stdin.CloseIn()
	return nil
}

// ReadStdout drains whatever the child has written to stdout so far, then
// returns either the whole accumulated output or only the increment since
// the previous read (see outputBuffer.read). Reading is legal in any state
// once a process was spawned: buffered data survives the child's exit. The
// returned slice aliases the internal buffer; callers must not modify it.
func (h *Handle) ReadStdout(whole bool) ([]byte, error) {
	if err := h.drain(&h.stdout, &h.stdoutBuf); err != nil {
		return nil, err
	}
	return h.stdoutBuf.read(whole), nil
}

// ReadStderr is ReadStdout for the standard error stream.
func (h *Handle) ReadStderr(whole bool) ([]byte, error) {
	if err := h.drain(&h.stderr, &h.stderrBuf); err != nil {
		return nil, err
	}
	return h.stderrBuf.read(whole), nil
}

// TakeStdout drains and then transfers the entire stdout accumulation out
// of the handle, leaving the internal buffer empty.
func (h *Handle) TakeStdout() ([]byte, error) {
	if err := h.drain(&h.stdout, &h.stdoutBuf); err != nil {
		return nil, err
	}
	return h.stdoutBuf.take(), nil
}

// TakeStderr is TakeStdout for the standard error stream.
func (h *Handle) TakeStderr() ([]byte, error) {
	if err := h.drain(&h.stderr, &h.stderrBuf); err != nil {
		return nil, err
	}
	return h.stderrBuf.take(), nil
}

// drain moves every byte currently sitting in the pipe into buf without
// blocking: it asks the kernel how many bytes are immediately available and
// reads exactly that many. Reading fewer than reported is an invariant
// violation - nothing else reads from these pipes.
func (h *Handle) drain(p *Pipe, buf *outputBuffer) error {
	if !h.ManagesProcess() {
		return errors.WithStack(ErrNotManaged)
	}
	if p.Out() == nil {
		return errors.WithStack(ErrPipeClosed)
	}

	avail, err := bytesAvailable(p.Out())
	if err != nil {
		return err
	}
	if avail == 0 {
		return nil
	}

	chunk := make([]byte, avail)
	if _, err := io.ReadFull(p.Out(), chunk); err != nil {
		return errors.Wrapf(err, "read returned fewer than the %d bytes reported available", avail)
	}
	buf.data = append(buf.data, chunk...)
	return nil
}

func bytesAvailable(f *os.File) (int, error) {
	conn, err := f.SyscallConn()
	if err != nil {
		return 0, errors.Wrap(err, "obtaining raw pipe descriptor")
	}
	var avail int
	var ioctlErr error
	if err := conn.Control(func(fd uintptr) {
		avail, ioctlErr = unix.IoctlGetInt(int(fd), unix.TIOCINQ)
	}); err != nil {
		return 0, errors.Wrap(err, "obtaining raw pipe descriptor")
	}
	if ioctlErr != nil {
		return 0, wrapSyscall("ioctl(FIONREAD)", ioctlErr)
	}
	return avail, nil
}
