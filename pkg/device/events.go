package device

import (
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// EventHandler receives device attach/detach/paired notifications.
// Handlers run on a muxer-internal goroutine; invocations for one
// subscription arrive in muxer emission order.
type EventHandler func(transport.Event)

// Watcher fans muxer device events out to registered handlers.
type Watcher struct {
	muxer transport.Muxer

	mu       sync.Mutex
	handlers map[uint64]EventHandler
	nextID   uint64
	cancel   func()
}

// NewWatcher creates a watcher over the given muxer.
func NewWatcher(muxer transport.Muxer) *Watcher {
	return &Watcher{
		muxer:    muxer,
		handlers: make(map[uint64]EventHandler),
	}
}

// Subscribe registers a handler and returns a token that removes it.
// The first subscription starts the muxer feed; removing the last one
// stops it.
func (w *Watcher) Subscribe(handler EventHandler) (*Token, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		cancel, err := w.muxer.Subscribe(w.dispatch)
		if err != nil {
			return nil, err
		}
		w.cancel = cancel
	}

	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	return &Token{watcher: w, id: id}, nil
}

func (w *Watcher) dispatch(event transport.Event) {
	w.mu.Lock()
	handlers := make([]EventHandler, 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (w *Watcher) remove(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.handlers, id)
	if len(w.handlers) == 0 && w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// Token unregisters one event subscription.
type Token struct {
	watcher *Watcher
	once    sync.Once
	id      uint64
}

// Dispose removes the subscription. Disposing twice is a no-op. An
// in-flight handler invocation may still complete after Dispose
// returns.
func (t *Token) Dispose() {
	t.once.Do(func() {
		t.watcher.remove(t.id)
	})
}
