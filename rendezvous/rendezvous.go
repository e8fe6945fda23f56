// Package rendezvous lets a parent process and exactly one child coordinate
// wait/notify handshakes with millisecond timeouts, for deterministic
// sequencing of otherwise-asynchronous work. It is intentionally minimal:
// the owning side creates a named unix domain socket, the joining side dials
// it, and a notification is a single byte on the connection.
package rendezvous

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const acceptTimeout = 10 * time.Second

// Pair is one side of a named two-party rendezvous. It is not safe for
// concurrent use; each party drives its own Pair from one goroutine.
type Pair struct {
	name     string
	listener *net.UnixListener // owning side only, until the child connects
	conn     net.Conn
}

// Create sets up the owning side under the given name. The owning side must
// exist before the joining side dials, and is responsible for Close.
func Create(name string) (*Pair, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath(name))
	if err != nil {
		return nil, errors.Wrapf(err, "resolving rendezvous %q", name)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "creating rendezvous %q", name)
	}
	return &Pair{name: name, listener: listener}, nil
}

// Join connects to an existing rendezvous created by the other party.
func Join(name string) (*Pair, error) {
	conn, err := net.Dial("unix", socketPath(name))
	if err != nil {
		return nil, errors.Wrapf(err, "joining rendezvous %q", name)
	}
	return &Pair{name: name, conn: conn}, nil
}

// Notify wakes the other party's pending (or next) Wait.
func (p *Pair) Notify() error {
	if err := p.ensureConn(acceptTimeout); err != nil {
		return err
	}
	if _, err := p.conn.Write([]byte{1}); err != nil {
		return errors.Wrapf(err, "notifying rendezvous %q", p.name)
	}
	return nil
}

// Wait blocks until the other party notifies, returning false if the
// timeout elapses first.
func (p *Pair) Wait(timeout time.Duration) (bool, error) {
	if err := p.ensureConn(timeout); err != nil {
		return false, err
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, errors.Wrapf(err, "arming rendezvous %q timeout", p.name)
	}
	buf := make([]byte, 1)
	if _, err := p.conn.Read(buf); err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return false, nil
		}
		return false, errors.Wrapf(err, "waiting on rendezvous %q", p.name)
	}
	return true, nil
}

// NotifyAndWait performs the child's half of a handshake.
func (p *Pair) NotifyAndWait(timeout time.Duration) (bool, error) {
	if err := p.Notify(); err != nil {
		return false, err
	}
	return p.Wait(timeout)
}

// WaitAndNotify performs the parent's half of a handshake. The notification
// is sent whether or not the wait timed out, so a slow peer is released
// rather than deadlocked.
func (p *Pair) WaitAndNotify(timeout time.Duration) (bool, error) {
	notified, err := p.Wait(timeout)
	if err != nil {
		return false, err
	}
	if err := p.Notify(); err != nil {
		return false, err
	}
	return notified, nil
}

// Close tears the pair down. The owning side also removes the socket file.
func (p *Pair) Close() error {
	var firstErr error
	if p.conn != nil {
		firstErr = p.conn.Close()
		p.conn = nil
	}
	if p.listener != nil {
		if err := p.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.listener = nil
		if err := os.Remove(socketPath(p.name)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return errors.Wrapf(firstErr, "closing rendezvous %q", p.name)
}

// ensureConn lazily accepts the joining side's connection on the owner.
func (p *Pair) ensureConn(timeout time.Duration) error {
	if p.conn != nil {
		return nil
	}
	if p.listener == nil {
		return errors.Errorf("rendezvous %q has no connection and owns no listener", p.name)
	}
	if timeout > 0 {
		if err := p.listener.SetDeadline(time.Now().Add(timeout)); err != nil {
			return errors.Wrapf(err, "arming rendezvous %q accept timeout", p.name)
		}
	}
	conn, err := p.listener.Accept()
	if err != nil {
		return errors.Wrapf(err, "accepting peer on rendezvous %q", p.name)
	}
	p.conn = conn
	return nil
}

func socketPath(name string) string {
	return filepath.Join(os.TempDir(), "rendezvous-"+name+".sock")
}
