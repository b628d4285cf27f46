package client

import (
	"sync"

	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/scheduler"
)

// CallbackFunc receives every lifecycle Event h's tag emits (spec.md
// §4.6's CREATED/READ_STARTED/WRITE_STARTED/ABORTED/READ_COMPLETED/
// WRITE_COMPLETED/DESTROYED sequence), with userCtx echoed back exactly
// as passed to RegisterCallback.
type CallbackFunc func(h Handle, kind scheduler.EventKind, userCtx interface{})

type registeredCallback struct {
	fn  CallbackFunc
	ctx interface{}
}

var (
	callbackMu sync.Mutex
	callbacks  = make(map[Handle]registeredCallback)
)

func init() {
	sched.AddListener(dispatchEvent)
}

// dispatchEvent is the single scheduler.Listener this package registers:
// every Session's Scheduler fans Events out here regardless of which
// endpoint they came from, and this function routes each one to the
// Handle whose tag.ID it names.
func dispatchEvent(ev scheduler.Event) {
	idIndexMu.Lock()
	h, ok := idIndex[ev.TagID]
	idIndexMu.Unlock()
	if !ok {
		return
	}

	callbackMu.Lock()
	cb, ok := callbacks[h]
	callbackMu.Unlock()
	if !ok {
		return
	}
	cb.fn(h, ev.Kind, cb.ctx)
}

// RegisterCallback arranges for fn to be called with userCtx on every
// Event h's tag emits from here on. A later call for the same Handle
// replaces the previous registration rather than stacking a second one.
func RegisterCallback(h Handle, fn CallbackFunc, userCtx interface{}) int {
	if _, ok := lookup(h); !ok {
		return statusCode(wireerr.ErrNotFound)
	}
	callbackMu.Lock()
	callbacks[h] = registeredCallback{fn: fn, ctx: userCtx}
	callbackMu.Unlock()
	return statusCode(wireerr.OK)
}

// UnregisterCallback removes h's callback, if any.
func UnregisterCallback(h Handle) int {
	unregisterCallback(h)
	return statusCode(wireerr.OK)
}

func unregisterCallback(h Handle) {
	callbackMu.Lock()
	delete(callbacks, h)
	callbackMu.Unlock()
}
