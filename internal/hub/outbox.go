package hub

import (
	"errors"
	"sync"
)

var (
	ErrOutboxFull   = errors.New("hub: outbox full")
	ErrOutboxClosed = errors.New("hub: outbox closed")
)

// DefaultOutboxSize is the number of frames an Outbox buffers before Send
// starts failing.
const DefaultOutboxSize = 32

// FrameWriter is the blocking side of a connection, usually a WebSocket.
// Close must be safe to call while WriteFrame is in progress.
type FrameWriter interface {
	WriteFrame(data []byte) error
	Close() error
}

// Outbox turns a blocking FrameWriter into a Transport. Frames are queued
// and written in order by a single goroutine, so Send never waits on the
// network.
type Outbox struct {
	w      FrameWriter
	queue  chan []byte
	onFail func(error)

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  error
	failOnce  sync.Once
	done      chan struct{}
}

// NewOutbox starts the writer goroutine. onFail, if set, is called once from
// its own goroutine when a write fails; the outbox is closed by then.
func NewOutbox(w FrameWriter, size int, onFail func(error)) (*Outbox, error) {
	if w == nil {
		return nil, errors.New("hub: frame writer must not be nil")
	}
	if size <= 0 {
		size = DefaultOutboxSize
	}
	o := &Outbox{
		w:      w,
		queue:  make(chan []byte, size),
		onFail: onFail,
		done:   make(chan struct{}),
	}
	go o.run()
	return o, nil
}

// Send queues data for writing. It fails instead of blocking when the queue
// is full.
func (o *Outbox) Send(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- data:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Close stops accepting frames and closes the underlying writer, which also
// interrupts a write in progress. Frames still queued are dropped. Close is
// safe to call more than once.
func (o *Outbox) Close() error {
	o.shutdown()
	return o.closeWriter()
}

// Done is closed once the writer goroutine has exited.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}

func (o *Outbox) closeWriter() error {
	o.closeOnce.Do(func() {
		o.closeErr = o.w.Close()
	})
	return o.closeErr
}

func (o *Outbox) run() {
	defer close(o.done)
	for data := range o.queue {
		if o.isClosed() {
			return
		}
		if err := o.w.WriteFrame(data); err != nil {
			o.fail(err)
			return
		}
	}
}

func (o *Outbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Outbox) fail(err error) {
	wasClosed := o.isClosed()
	o.shutdown()
	_ = o.closeWriter()
	if wasClosed || o.onFail == nil {
		return
	}
	o.failOnce.Do(func() {
		go o.onFail(err)
	})
}
