//go:build linux

// Package process supervises child processes. A Handle spawns one child
// with pipes wired to its standard streams, tracks its lifecycle through
// non-blocking or bounded polls of a pidfd, captures stdout/stderr
// incrementally, writes to stdin, and can force-kill the child. All waiting
// is synchronous and caller-driven; the package starts no goroutines.
package process

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// State is a stage of a child process's lifecycle. Transitions only ever
// move forward: Uninitialized < Ready < Running < Finished.
type State int

const (
	// Uninitialized is the zero value; a handle is in this state when
	// default-constructed or after being moved from. Anything other than
	// Move or Close fails.
	Uninitialized State = iota
	// Ready means path and args are set but no OS process exists yet.
	Ready
	// Running means the child exists; polls may or may not observe exit.
	Running
	// Finished is terminal; the return code and timings are fixed.
	Finished
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateChange reports the exact transition one Update call performed.
type StateChange struct {
	Previous State
	Current  State
}

// Usage and state errors. These are always recoverable: the caller can
// inspect State() / ManagesProcess() first.
var (
	ErrUninitialized = errors.New("handle was not given a command to run")
	ErrNotManaged    = errors.New("no process is being managed by this handle")
	ErrNotRunning    = errors.New("process is not running")
	ErrNotFinished   = errors.New("process has not finished")
	ErrStdinClosed   = errors.New("stdin pipe is closed or was never opened")
	ErrPipeClosed    = errors.New("pipe read end is closed or was never opened")
)

// Options tune how a handle drives its child.
type Options struct {
	// Dir is the working directory of the child. Empty inherits the
	// parent's. The child always inherits the parent's environment.
	Dir string
	// KillSignal is the signal Kill sends. Defaults to SIGKILL.
	KillSignal syscall.Signal `default:"9"`
}

// Handle supervises exactly one child process across its full lifecycle.
// It is pull-based: the caller drives all waiting through Update, and no
// background goroutine exists. A handle must not be used concurrently from
// multiple goroutines without external synchronization; two handles for two
// distinct children are fully independent.
//
// Handles are move-only. Copying one would alias pipe descriptors and the
// child pid; use Move to transfer ownership instead.
type Handle struct {
	path string
	args []string
	opts Options

	state State
	pid   int // 0 until the child is spawned, then fixed even after Finished

	timeSpawned  time.Time
	timeFinished time.Time

	stdin  Pipe
	stdout Pipe
	stderr Pipe

	// Exit status if the child exited, or the number of the signal that
	// killed it. The two cases share this field and are deliberately not
	// distinguished, see ReturnCode.
	returnCode int

	stdoutBuf outputBuffer
	stderrBuf outputBuffer
}

// New returns a handle in the Ready state for running path with args.
// Following the exec(3) convention, the argument vector handed to the OS
// will contain path itself as its first element.
func New(path string, args ...string) *Handle {
	return NewWithOptions(Options{}, path, args...)
}

// NewWithOptions is New with explicit Options. Zero option fields are
// filled with their defaults.
func NewWithOptions(opts Options, path string, args ...string) *Handle {
	defaults.SetDefaults(&opts)
	return &Handle{
		path:  path,
		args:  args,
		opts:  opts,
		state: Ready,
	}
}

// ManagesProcess reports whether an OS process was ever spawned for this
// handle. It stays true after the child finishes - the pid is still needed
// to answer status and timing queries.
func (h *Handle) ManagesProcess() bool {
	return h.pid != 0
}

// State returns the current lifecycle state without polling the OS.
func (h *Handle) State() State {
	return h.state
}

// IsFinished reports whether the child has been observed to exit.
func (h *Handle) IsFinished() bool {
	return h.state == Finished
}

// Pid returns the child's process id, or 0 if none was spawned yet.
func (h *Handle) Pid() int {
	return h.pid
}

// Move transfers the handle's entire contents - child pid, pipes, buffers,
// timings - to the returned handle and resets the receiver to the zero
// (Uninitialized) value. The receiver afterwards manages no process and
// fails all status and I/O queries.
func (h *Handle) Move() *Handle {
	moved := *h
	*h = Handle{}
	return &moved
}

// Update drives the state machine and returns the transition it performed.
//
// timeoutMs follows poll(2): negative blocks until the child exits, zero
// performs at most one non-blocking check, positive blocks up to that many
// milliseconds. From Ready it spawns the child (and, for a non-zero
// timeout, immediately continues into the wait so the call honors the
// caller's requested duration). From Running it waits on the child's pidfd
// and reaps it once the descriptor signals exit. From Finished it is a
// no-op. From Uninitialized it fails.
func (h *Handle) Update(timeoutMs int) (StateChange, error) {
	previous := h.state

	switch h.state {
	case Ready:
		if err := h.spawn(); err != nil {
			return StateChange{previous, h.state}, err
		}
		if timeoutMs != 0 {
			change, err := h.Update(timeoutMs)
			return StateChange{previous, change.Current}, err
		}

	case Running:
		if !h.ManagesProcess() {
			return StateChange{previous, h.state}, errors.WithStack(ErrNotManaged)
		}
		// The pidfd is a one-shot "becomes readable when this exact pid
		// exits" descriptor, which is what lets zero/bounded/infinite
		// timeouts work without busy-polling the wait syscall.
		pidfd, err := unix.PidfdOpen(h.pid, 0)
		if err != nil {
			return StateChange{previous, h.state}, wrapSyscall("pidfd_open", err)
		}
		defer unix.Close(pidfd)

		ready, err := pollRead(pidfd, timeoutMs)
		if err != nil {
			return StateChange{previous, h.state}, err
		}
		if ready {
			if err := h.queryStatus(false); err != nil {
				return StateChange{previous, h.state}, err
			}
		}
		if timeoutMs < 0 && h.state != Finished {
			// Unreachable unless the pidfd/wait model is broken.
			panic(fmt.Sprintf("process: infinite wait returned but pid %d has not finished", h.pid))
		}

	case Finished:
		if !h.ManagesProcess() {
			return StateChange{previous, h.state}, errors.WithStack(ErrNotManaged)
		}

	default:
		return StateChange{previous, h.state}, errors.WithStack(ErrUninitialized)
	}

	return StateChange{previous, h.state}, nil
}

// Finish blocks until the child has exited and returns the state the handle
// was in beforehand.
func (h *Handle) Finish() (State, error) {
	change, err := h.Update(-1)
	return change.Previous, err
}

// spawn creates the three pipes, starts the child with its standard streams
// wired to them, and transitions to Running. The fork/exec itself is left
// to the runtime's start-process primitive, which keeps the window between
// fork and exec free of any non-async-signal-safe work.
func (h *Handle) spawn() error {
	for _, p := range []*Pipe{&h.stdin, &h.stdout, &h.stderr} {
		if err := p.Init(); err != nil {
			return err
		}
	}

	argv := append([]string{h.path}, h.args...)
	child, err := os.StartProcess(h.path, argv, &os.ProcAttr{
		Dir:   h.opts.Dir,
		Files: []*os.File{h.stdin.Out(), h.stdout.In(), h.stderr.In()},
	})
	if err != nil {
		return errors.Wrapf(err, "starting %v", h.path)
	}

	// The child now owns its copies of these ends; keeping ours open would
	// stop the child's stdout/stderr from ever reporting EOF.
	h.stdin.CloseOut()
	h.stdout.CloseIn()
	h.stderr.CloseIn()

	h.timeSpawned = time.Now()
	h.pid = child.Pid
	h.state = Running

	// Drop the *os.Process; the handle tracks the pid itself and reaps via
	// wait4, never via Process.Wait.
	if err := child.Release(); err != nil {
		log.Warnf("releasing process object for pid %v: %v", h.pid, err)
	}

	return nil
}

// queryStatus reaps the child if it has terminated, either blocking until
// it does (waitForFinishing) or checking once without blocking. On a
// recognized terminal disposition it records the finish timestamp and the
// combined exit-status-or-signal value.
func (h *Handle) queryStatus(waitForFinishing bool) error {
	if !h.ManagesProcess() {
		return errors.WithStack(ErrNotManaged)
	}
	switch h.state {
	case Finished:
		return nil
	case Running:
	default:
		return errors.WithStack(ErrNotRunning)
	}

	options := 0
	if !waitForFinishing {
		options = unix.WNOHANG
	}

	var status unix.WaitStatus
	for {
		reaped, err := unix.Wait4(h.pid, &status, options, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapSyscall("wait4", err)
		}
		if reaped == 0 {
			// Non-blocking check, no change yet.
			return nil
		}
		if reaped != h.pid {
			// Single-child tracking means this cannot happen.
			panic(fmt.Sprintf("process: wait4 reaped pid %d while managing pid %d", reaped, h.pid))
		}
		break
	}

	if status.Exited() || status.Signaled() {
		h.timeFinished = time.Now()
		h.state = Finished
		if status.Exited() {
			h.returnCode = status.ExitStatus()
		} else {
			h.returnCode = int(status.Signal())
		}
	}
	return nil
}

// Kill forcibly terminates a running child and synchronously reaps it, so
// the handle is Finished when Kill returns. If the handle is not managing a
// running process this is a silent no-op - Kill is expected to be safely
// callable during teardown.
func (h *Handle) Kill() error {
	if !h.ManagesProcess() || h.state != Running {
		return nil
	}
	if err := unix.Kill(h.pid, h.opts.KillSignal); err != nil {
		return wrapSyscall("kill", err)
	}
	return h.queryStatus(true)
}

// Close releases the handle. A still-running child never outlives its
// handle: it is force-killed best-effort, with failures logged rather than
// returned. Close always succeeds, satisfying io.Closer for callers that
// manage handles generically.
func (h *Handle) Close() error {
	if h.ManagesProcess() && h.state == Running {
		if err := h.Kill(); err != nil {
			log.Warnf("killing pid %v during handle teardown: %v", h.pid, err)
		}
	}
	h.stdin.Close()
	h.stdout.Close()
	h.stderr.Close()
	return nil
}

// RunningTime returns how long the child has been running, or its total
// wall-clock runtime once it finished. It does not poll: a child that
// already exited but was not yet observed by Update still counts as
// running.
func (h *Handle) RunningTime() (time.Duration, error) {
	if !h.ManagesProcess() {
		return 0, errors.WithStack(ErrNotManaged)
	}
	switch h.state {
	case Running:
		return time.Since(h.timeSpawned), nil
	case Finished:
		return h.timeFinished.Sub(h.timeSpawned), nil
	default:
		return 0, errors.WithStack(ErrNotRunning)
	}
}

// ReturnCode returns the child's exit status - or, if a signal terminated
// it, that signal's number. The two cases share one integer and the caller
// cannot tell them apart from this value alone; this is a known limitation
// kept for compatibility with the wait status it is derived from.
func (h *Handle) ReturnCode() (int, error) {
	if !h.ManagesProcess() {
		return 0, errors.WithStack(ErrNotManaged)
	}
	if h.state != Finished {
		return 0, errors.WithStack(ErrNotFinished)
	}
	return h.returnCode, nil
}
