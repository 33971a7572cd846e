package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// blockingWriter holds every write until released or closed.
type blockingWriter struct {
	started chan struct{}
	release chan struct{}
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	frames []string
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (w *blockingWriter) WriteFrame(data []byte) error {
	select {
	case w.started <- struct{}{}:
	default:
	}
	select {
	case <-w.release:
	case <-w.closed:
		return errors.New("use of closed connection")
	}
	w.mu.Lock()
	w.frames = append(w.frames, string(data))
	w.mu.Unlock()
	return nil
}

func (w *blockingWriter) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func (w *blockingWriter) isClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

func (w *blockingWriter) Frames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.frames...)
}

type failingWriter struct {
	err    error
	closed chan struct{}
	once   sync.Once
}

func (w *failingWriter) WriteFrame([]byte) error { return w.err }

func (w *failingWriter) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func TestOutbox_WritesInOrder(t *testing.T) {
	w := newBlockingWriter()
	close(w.release)
	o, err := NewOutbox(w, 8, nil)
	require.NoError(t, err)

	for _, f := range []string{"a", "b", "c"} {
		require.NoError(t, o.Send([]byte(f)))
	}
	require.Eventually(t, func() bool { return len(w.Frames()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, w.Frames())

	require.NoError(t, o.Close())
	<-o.Done()
	require.True(t, w.isClosed())
	require.ErrorIs(t, o.Send([]byte("d")), ErrOutboxClosed)
	require.NoError(t, o.Close())
}

func TestOutbox_FullQueueFailsFast(t *testing.T) {
	w := newBlockingWriter()
	o, err := NewOutbox(w, 2, nil)
	require.NoError(t, err)
	defer o.Close()

	require.NoError(t, o.Send([]byte("1")))
	<-w.started
	require.NoError(t, o.Send([]byte("2")))
	require.NoError(t, o.Send([]byte("3")))

	done := make(chan error, 1)
	go func() { done <- o.Send([]byte("4")) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrOutboxFull)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full queue")
	}
}

func TestOutbox_CloseInterruptsPendingWrite(t *testing.T) {
	w := newBlockingWriter()
	o, err := NewOutbox(w, 4, nil)
	require.NoError(t, err)

	require.NoError(t, o.Send([]byte("stuck")))
	<-w.started
	require.NoError(t, o.Close())

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("writer goroutine did not exit")
	}
	require.Empty(t, w.Frames())
}

func TestOutbox_WriteFailureReportsOnce(t *testing.T) {
	w := &failingWriter{err: errors.New("broken pipe"), closed: make(chan struct{})}
	failures := make(chan error, 4)
	o, err := NewOutbox(w, 4, func(err error) { failures <- err })
	require.NoError(t, err)

	require.NoError(t, o.Send([]byte("x")))
	select {
	case err := <-failures:
		require.EqualError(t, err, "broken pipe")
	case <-time.After(time.Second):
		t.Fatal("onFail not called")
	}
	<-o.Done()
	<-w.closed
	require.ErrorIs(t, o.Send([]byte("y")), ErrOutboxClosed)
	require.Empty(t, failures)
}

func TestOutbox_FailureUnregistersFromHub(t *testing.T) {
	h := newTestHub()
	w := &failingWriter{err: errors.New("reset"), closed: make(chan struct{})}
	o, err := NewOutbox(w, 4, func(error) { h.Unregister("peer") })
	require.NoError(t, err)
	require.NoError(t, h.Register("peer", o))

	h.Broadcast(context.Background(), map[string]string{"type": "statusUpdate"})
	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestNewOutbox_RequiresWriter(t *testing.T) {
	_, err := NewOutbox(nil, 1, nil)
	require.Error(t, err)
}
