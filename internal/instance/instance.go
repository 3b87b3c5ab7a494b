// Package instance implements the workflow instance runtime: a goroutine
// that parks the instance at named bookmarks while idle, accepts a single
// delivered request at a time through a mailbox, runs the receive point's
// handler, and produces the response the dispatcher is waiting on.
package instance

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/flowmark/flowmark/internal/correlation"
	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/workflow"
)

type (
	// Observer is notified after each lifecycle transition. It is always
	// called outside the instance's lock
	Observer func(typ api.EventType, in *Instance)

	// PersistFunc checkpoints a snapshot to durable storage
	PersistFunc func(ctx context.Context, snap *api.Snapshot) error

	// Instance is one long-running, stateful execution of a definition
	Instance struct {
		id      uuid.UUID
		def     *workflow.Definition
		bases   []*url.URL
		observe Observer
		persist PersistFunc

		// sem serializes request episodes against this instance. It is
		// acquired by the dispatcher for a full resume/response cycle and
		// by the host when unloading
		sem *semaphore.Weighted

		mu        sync.Mutex
		status    api.InstanceStatus
		bookmarks map[string]*workflow.ReceivePoint
		state     api.Vars
		version   int64
		noPersist bool
		termErr   error
		changed   chan struct{}

		mailbox chan *Delivery
		done    chan struct{}
		ctx     context.Context
		cancel  context.CancelFunc
	}

	// Delivery carries a matched request to the instance's run loop. The
	// Response channel is the one-shot future the dispatcher blocks on
	Delivery struct {
		Bookmark string
		Point    *workflow.ReceivePoint
		Request  *http.Request
		Params   map[string]string
		Response chan *api.Response
	}
)

var (
	// ErrNotReady means the instance is mid-transition; the caller should
	// back off and retry within its deadline
	ErrNotReady = errors.New("instance not ready for resumption")

	// ErrBookmarkNotFound means the instance is not waiting at the named
	// bookmark; in correct operation this is a protocol violation
	ErrBookmarkNotFound = errors.New("instance not waiting for bookmark")

	// ErrFinished means the instance already completed, terminated, or
	// unloaded
	ErrFinished = errors.New("instance finished")

	// ErrHandlerPanic wraps a panicking receive handler
	ErrHandlerPanic = errors.New("receive handler panicked")
)

// New creates an instance with a fresh random identifier. The run loop does
// not start until Start is called
func New(
	def *workflow.Definition, bases []*url.URL,
	observe Observer, persist PersistFunc,
) *Instance {
	return newInstance(uuid.New(), def, bases, observe, persist, api.Vars{}, 0)
}

// NewFromSnapshot reconstructs an unloaded instance from its durable state
func NewFromSnapshot(
	snap *api.Snapshot, def *workflow.Definition, bases []*url.URL,
	observe Observer, persist PersistFunc,
) (*Instance, error) {
	id, err := uuid.Parse(string(snap.ID))
	if err != nil {
		return nil, fmt.Errorf("invalid instance id %q: %w", snap.ID, err)
	}
	state := snap.State
	if state == nil {
		state = api.Vars{}
	}
	return newInstance(
		id, def, bases, observe, persist, state, snap.Version,
	), nil
}

func newInstance(
	id uuid.UUID, def *workflow.Definition, bases []*url.URL,
	observe Observer, persist PersistFunc, state api.Vars, version int64,
) *Instance {
	if observe == nil {
		observe = func(api.EventType, *Instance) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Instance{
		id:      id,
		def:     def,
		bases:   bases,
		observe: observe,
		persist: persist,
		sem:     semaphore.NewWeighted(1),
		status:  api.InstanceActivating,
		state:   state,
		version: version,
		changed: make(chan struct{}),
		mailbox: make(chan *Delivery, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the instance's identifier
func (in *Instance) ID() uuid.UUID {
	return in.id
}

// APIID returns the identifier in its canonical textual form
func (in *Instance) APIID() api.InstanceID {
	return api.InstanceID(in.id.String())
}

// Start launches the run loop. The instance becomes resumable once it
// reaches its first idle transition
func (in *Instance) Start() {
	go in.run()
}

// Acquire takes the instance's episode lock, waiting until ctx expires
func (in *Instance) Acquire(ctx context.Context) error {
	return in.sem.Acquire(ctx, 1)
}

// TryAcquire takes the episode lock only if it is immediately available
func (in *Instance) TryAcquire() bool {
	return in.sem.TryAcquire(1)
}

// Release returns the episode lock
func (in *Instance) Release() {
	in.sem.Release(1)
}

// Status returns the instance's current lifecycle state
func (in *Instance) Status() api.InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// Bookmarks lists the names the instance is currently parked at
func (in *Instance) Bookmarks() []string {
	in.mu.Lock()
	defer in.mu.Unlock()

	names := make([]string, 0, len(in.bookmarks))
	for name := range in.bookmarks {
		names = append(names, name)
	}
	return names
}

// AtBookmark reports whether the instance is idle at the named bookmark
func (in *Instance) AtBookmark(name string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.bookmarks[name]
	return ok && in.status == api.InstanceIdle
}

// Done is closed when the instance completes or terminates
func (in *Instance) Done() <-chan struct{} {
	return in.done
}

// TerminationError returns the unhandled failure that ended the instance,
// if any
func (in *Instance) TerminationError() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.termErr
}

// WaitIdleAt blocks until the instance is idle at the named bookmark. This
// covers first-time activation, where the dispatcher must drive execution
// forward before the bookmark exists
func (in *Instance) WaitIdleAt(ctx context.Context, name string) error {
	for {
		in.mu.Lock()
		switch {
		case in.status == api.InstanceIdle:
			_, ok := in.bookmarks[name]
			in.mu.Unlock()
			if !ok {
				return fmt.Errorf("%w: %s", ErrBookmarkNotFound, name)
			}
			return nil

		case in.status.IsTerminal() || in.status == api.InstanceUnloaded:
			in.mu.Unlock()
			return ErrFinished
		}

		ch := in.changed
		in.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryResume attempts to deliver a request at the named bookmark. The caller
// must hold the episode lock. ErrNotReady means the instance is between
// transitions and the attempt should be retried
func (in *Instance) TryResume(d *Delivery) error {
	in.mu.Lock()
	switch {
	case in.status.IsTerminal() || in.status == api.InstanceUnloaded:
		in.mu.Unlock()
		return ErrFinished
	case in.status != api.InstanceIdle:
		in.mu.Unlock()
		return ErrNotReady
	}

	if _, ok := in.bookmarks[d.Bookmark]; !ok {
		in.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBookmarkNotFound, d.Bookmark)
	}

	// Resumption clears every armed bookmark; the run loop re-arms them
	// when the instance parks again
	in.bookmarks = nil
	in.status = api.InstanceBusy
	in.signalLocked()
	in.mu.Unlock()

	in.observe(api.EventTypeInstanceBusy, in)
	in.mailbox <- d
	return nil
}

// Snapshot returns a read-only copy of the instance's durable state. While
// a handler is executing the user state is omitted, since the handler owns
// it for the duration of the turn
func (in *Instance) Snapshot() *api.Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshotLocked()
}

// Checkpoint returns a snapshot with a freshly incremented version, for
// writing to the instance store
func (in *Instance) Checkpoint() *api.Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.version++
	return in.snapshotLocked()
}

// Unload releases the instance's in-memory state. The caller must hold the
// episode lock and have checkpointed the instance first
func (in *Instance) Unload() {
	in.mu.Lock()
	in.status = api.InstanceUnloaded
	in.bookmarks = nil
	in.signalLocked()
	in.mu.Unlock()
	in.cancel()
}

// Stop cancels the run loop without changing lifecycle state, used during
// host shutdown
func (in *Instance) Stop() {
	in.cancel()
}

func (in *Instance) run() {
	in.park()
	for {
		select {
		case <-in.ctx.Done():
			return
		case d := <-in.mailbox:
			if in.deliver(d) {
				return
			}
			in.park()
		}
	}
}

// park arms one bookmark per receive point and base address and transitions
// to idle
func (in *Instance) park() {
	bookmarks := map[string]*workflow.ReceivePoint{}
	for _, rp := range in.def.Receives {
		for _, base := range in.bases {
			bookmarks[rp.BookmarkName(base)] = rp
		}
	}

	in.mu.Lock()
	if in.status == api.InstanceUnloaded {
		in.mu.Unlock()
		return
	}
	in.bookmarks = bookmarks
	in.status = api.InstanceIdle
	in.signalLocked()
	in.mu.Unlock()

	in.observe(api.EventTypeInstanceIdle, in)
}

// deliver runs one turn: handler, response construction, optional
// checkpoint, response delivery. Returns true once the instance finished
func (in *Instance) deliver(d *Delivery) bool {
	in.setNoPersist(true)

	result, err := in.invokeHandler(d)
	if err != nil {
		in.setNoPersist(false)
		in.terminate(err)
		return true
	}

	result, completed := workflow.Unwrap(result)

	resp, err := buildResponse(d.Request, result)
	if err != nil {
		in.setNoPersist(false)
		in.terminate(err)
		return true
	}

	// The response is fully constructed before any durability boundary, so
	// a crash during checkpointing never loses a promised response
	in.setNoPersist(false)

	if !completed {
		correlation.Encode(resp.Header, in.id)
	}

	if d.Point.PersistBeforeSend && in.persist != nil && !completed {
		if err := in.saveCheckpoint(); err != nil {
			in.terminate(err)
			return true
		}
		in.observe(api.EventTypeInstancePersisted, in)
	}

	if completed {
		in.mu.Lock()
		in.status = api.InstanceCompleted
		in.bookmarks = nil
		in.signalLocked()
		in.mu.Unlock()
		in.observe(api.EventTypeInstanceCompleted, in)
	}

	d.Response <- resp

	if completed {
		close(in.done)
		return true
	}
	return false
}

func (in *Instance) invokeHandler(d *Delivery) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	inv := &workflow.Invocation{
		Request: d.Request,
		Params:  d.Params,
		State:   in.state,
	}
	return d.Point.Handler(in.ctx, inv)
}

func (in *Instance) terminate(err error) {
	in.mu.Lock()
	in.status = api.InstanceTerminated
	in.termErr = err
	in.bookmarks = nil
	in.signalLocked()
	in.mu.Unlock()

	in.observe(api.EventTypeInstanceTerminated, in)
	close(in.done)
}

// saveCheckpoint persists the post-turn state. The handler has already
// returned, so the state is stable even though the instance has not parked
// yet
func (in *Instance) saveCheckpoint() error {
	in.mu.Lock()
	in.version++
	snap := &api.Snapshot{
		ID:        in.APIID(),
		Status:    api.InstanceIdle,
		State:     maps.Clone(in.state),
		Version:   in.version,
		UpdatedAt: time.Now(),
	}
	in.mu.Unlock()

	ctx, cancel := context.WithTimeout(in.ctx, 10*time.Second)
	defer cancel()
	return in.persist(ctx, snap)
}

func (in *Instance) setNoPersist(v bool) {
	in.mu.Lock()
	in.noPersist = v
	in.mu.Unlock()
}

func (in *Instance) snapshotLocked() *api.Snapshot {
	snap := &api.Snapshot{
		ID:        in.APIID(),
		Status:    in.status,
		Version:   in.version,
		UpdatedAt: time.Now(),
	}
	if !in.noPersist && in.status != api.InstanceBusy {
		snap.State = maps.Clone(in.state)
	}
	return snap
}

func (in *Instance) signalLocked() {
	close(in.changed)
	in.changed = make(chan struct{})
}
