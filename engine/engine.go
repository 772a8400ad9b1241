// Package engine owns the subscription lifecycle against the remote store:
// connecting, reconnecting with backoff, and replacing the local cache with
// each authoritative snapshot. It also provides the optimistic write path
// every command goes through.
package engine

import (
	"boardsync/cache"
	"boardsync/core"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the engine's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSynced       State = "synced"
)

const (
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 30 * time.Second
)

// Engine reconciles the local cache against the remote store.
type Engine struct {
	store core.ObjectStore
	local *cache.Store

	mu          sync.Mutex
	state       State
	retrying    bool
	attempts    int
	generation  uint64 // bumped per authoritative snapshot
	unsubscribe func()
	retryTimer  *time.Timer
	closed      bool

	baseDelay time.Duration
	maxDelay  time.Duration

	onStateChange func(State, bool)

	pendingMu sync.Mutex
	pending   map[string]*pendingWrite
}

// NewEngine creates an engine bound to a remote store and a local cache.
func NewEngine(store core.ObjectStore, local *cache.Store) *Engine {
	return &Engine{
		store:     store,
		local:     local,
		state:     StateDisconnected,
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
		pending:   make(map[string]*pendingWrite),
	}
}

// SetBackoff overrides the reconnect backoff window. Call before Start.
func (e *Engine) SetBackoff(base, max time.Duration) {
	e.baseDelay = base
	e.maxDelay = max
}

// OnStateChange registers a callback invoked (outside the engine lock) after
// every state transition, with the new state and whether a retry is pending.
func (e *Engine) OnStateChange(fn func(state State, retrying bool)) {
	e.mu.Lock()
	e.onStateChange = fn
	e.mu.Unlock()
}

// State returns the current connection state and whether a reconnect is
// scheduled.
func (e *Engine) State() (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.retrying
}

// Attempts returns the current consecutive failure count.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// Start begins the Connecting sequence. The first successful snapshot moves
// the engine to Synced.
func (e *Engine) Start() {
	e.connect()
}

// Close cancels the subscription and any scheduled reconnect.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	unsub := e.unsubscribe
	e.unsubscribe = nil
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.state = StateDisconnected
	e.retrying = false
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Retry resets the failure counter and restarts the Connecting sequence
// immediately.
func (e *Engine) Retry() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.attempts = 0
	e.retrying = false
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.connect()
}

// SetOnline feeds network availability signals into the engine. Going
// offline marks the engine Disconnected without tearing down the
// subscription; coming back online triggers an immediate retry.
func (e *Engine) SetOnline(online bool) {
	if online {
		e.Retry()
		return
	}
	e.transition(StateDisconnected, false)
}

func (e *Engine) connect() {
	e.transition(StateConnecting, false)

	// Subscribe may deliver the first snapshot synchronously, so the
	// engine lock must not be held across this call.
	unsub := e.store.Subscribe(e.handleSnapshot, e.handleError)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		unsub()
		return
	}
	e.unsubscribe = unsub
	e.mu.Unlock()
}

// handleSnapshot applies an authoritative snapshot: the cache is replaced
// wholesale, never merged with pending optimistic writes.
func (e *Engine) handleSnapshot(snapshot []core.Object) {
	e.local.ReplaceAll(snapshot)

	e.mu.Lock()
	e.generation++
	e.attempts = 0
	e.retrying = false
	changed := e.state != StateSynced
	e.state = StateSynced
	cb := e.onStateChange
	e.mu.Unlock()

	if changed {
		logrus.WithField("objects", len(snapshot)).Debug("Synced with remote store")
		if cb != nil {
			cb(StateSynced, false)
		}
	}
}

func (e *Engine) handleError(err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.attempts++
	e.retrying = true
	delay := backoffDelay(e.baseDelay, e.maxDelay, e.attempts)
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(delay, e.reconnect)
	attempts := e.attempts
	cb := e.onStateChange
	state := e.state
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"attempt":     attempts,
		"retry_delay": delay,
	}).WithError(err).Warn("Subscription failed, scheduling reconnect")
	if cb != nil {
		cb(state, true)
	}
}

func (e *Engine) reconnect() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.retryTimer = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.connect()
}

func (e *Engine) transition(state State, retrying bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.retrying = retrying
	cb := e.onStateChange
	e.mu.Unlock()

	if cb != nil {
		cb(state, retrying)
	}
}

// backoffDelay doubles the base delay per consecutive failure, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

const tempIDPrefix = "temp-"

// IsTempID reports whether id names a local-only placeholder object that has
// not been confirmed by the store yet.
func IsTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}
