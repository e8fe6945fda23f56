package rendezvous

import (
	"testing"
	"time"

	"github.com/dchest/uniuri"
	"github.com/stretchr/testify/require"
)

func TestHandshake(t *testing.T) {
	name := uniuri.NewLen(12)
	owner, err := Create(name)
	require.NoError(t, err)
	defer owner.Close()

	done := make(chan error, 1)
	go func() {
		peer, err := Join(name)
		if err != nil {
			done <- err
			return
		}
		defer peer.Close()
		notified, err := peer.NotifyAndWait(2 * time.Second)
		if err == nil && !notified {
			err = errTimeout
		}
		done <- err
	}()

	notified, err := owner.WaitAndNotify(2 * time.Second)
	require.NoError(t, err)
	require.True(t, notified)
	require.NoError(t, <-done)
}

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "peer wait timed out" }

func TestWaitTimesOut(t *testing.T) {
	name := uniuri.NewLen(12)
	owner, err := Create(name)
	require.NoError(t, err)
	defer owner.Close()

	peer, err := Join(name)
	require.NoError(t, err)
	defer peer.Close()

	start := time.Now()
	notified, err := peer.Wait(50 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, notified)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestNotifyBeforeWaitIsNotLost(t *testing.T) {
	name := uniuri.NewLen(12)
	owner, err := Create(name)
	require.NoError(t, err)
	defer owner.Close()

	peer, err := Join(name)
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, peer.Notify())

	notified, err := owner.Wait(time.Second)
	require.NoError(t, err)
	require.True(t, notified)
}

func TestJoinWithoutOwnerFails(t *testing.T) {
	_, err := Join(uniuri.NewLen(12))
	require.Error(t, err)
}

func TestCloseRemovesSocket(t *testing.T) {
	name := uniuri.NewLen(12)
	owner, err := Create(name)
	require.NoError(t, err)
	require.NoError(t, owner.Close())

	// The name is reusable once the owning side is gone.
	owner, err = Create(name)
	require.NoError(t, err)
	require.NoError(t, owner.Close())
}
