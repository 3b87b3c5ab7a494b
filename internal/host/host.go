// Package host wires workflow definitions to the HTTP surface: it owns the
// template tables, the instance cache, the dispatcher that correlates and
// resumes instances, and the idle controller that checkpoints and unloads
// them.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flowmark/flowmark/internal/config"
	"github.com/flowmark/flowmark/internal/hub"
	"github.com/flowmark/flowmark/internal/instance"
	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/log"
	"github.com/flowmark/flowmark/pkg/uritemplate"
	"github.com/flowmark/flowmark/pkg/workflow"
)

type (
	// Host runs one workflow definition over a set of base addresses
	Host struct {
		cfg      *config.Config
		logger   *slog.Logger
		def      *workflow.Definition
		store    store.Store
		hub      *hub.Hub
		tables   *uritemplate.TableSet
		bases    []*url.URL
		cache    *Cache
		idle     *idleController
		clock    Clock
		newTimer TimerConstructor

		onCreate CreateHook
		onUnload UnloadHook

		loadMu  sync.Mutex
		loading map[api.InstanceID]*inflight
	}

	// CreateHook observes every freshly created instance
	CreateHook func(in *instance.Instance)

	// UnloadHook is consulted before an idle instance is unloaded.
	// Returning false vetoes the unload; the idle timer is rescheduled
	UnloadHook func(in *instance.Instance) bool

	// Option configures optional host behavior
	Option func(*Host)

	inflight struct {
		done chan struct{}
		in   *instance.Instance
		err  error
	}
)

// ErrUnknownInstance is returned when neither the cache nor the store knows
// the requested identifier
var ErrUnknownInstance = errors.New("unknown instance")

// WithClock overrides the host's time source
func WithClock(clock Clock) Option {
	return func(h *Host) {
		h.clock = clock
	}
}

// WithTimerConstructor overrides how idle timers are built
func WithTimerConstructor(ctor TimerConstructor) Option {
	return func(h *Host) {
		h.newTimer = ctor
	}
}

// WithCreateHook registers a hook invoked after instance creation
func WithCreateHook(hook CreateHook) Option {
	return func(h *Host) {
		h.onCreate = hook
	}
}

// WithUnloadHook registers a hook consulted before idle unload
func WithUnloadHook(hook UnloadHook) Option {
	return func(h *Host) {
		h.onUnload = hook
	}
}

// New validates the definition and compiles its receive points into one
// template table per base address
func New(
	cfg *config.Config, def *workflow.Definition, st store.Store,
	hb *hub.Hub, logger *slog.Logger, opts ...Option,
) (*Host, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	bases := make([]*url.URL, 0, len(cfg.BaseAddresses))
	for _, addr := range cfg.BaseAddresses {
		base, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("parse base address %s: %w", addr, err)
		}
		bases = append(bases, base)
	}

	tables, err := uritemplate.NewTableSet(bases...)
	if err != nil {
		return nil, err
	}

	creatable := false
	for _, rp := range def.Receives {
		if err := tables.Add(rp.Method, rp.Template, rp); err != nil {
			return nil, err
		}
		creatable = creatable || rp.CanCreateInstance
	}
	if !creatable {
		logger.Warn("No receive point can create instances",
			slog.String("definition", def.Name))
	}

	h := &Host{
		cfg:      cfg,
		logger:   logger,
		def:      def,
		store:    st,
		hub:      hb,
		tables:   tables,
		bases:    bases,
		cache:    NewCache(),
		clock:    time.Now,
		newTimer: NewTimer,
		loading:  map[api.InstanceID]*inflight{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.idle = newIdleController(h)
	return h, nil
}

// Definition returns the hosted workflow definition
func (h *Host) Definition() *workflow.Definition {
	return h.def
}

// Cache returns the loaded-instance cache
func (h *Host) Cache() *Cache {
	return h.cache
}

// Instances returns a digest of every loaded instance
func (h *Host) Instances() []*api.Instance {
	cached := h.cache.Instances()
	res := make([]*api.Instance, 0, len(cached))
	for _, in := range cached {
		res = append(res, &api.Instance{
			ID:        in.APIID(),
			Status:    in.Status(),
			Bookmarks: in.Bookmarks(),
		})
	}
	return res
}

// Snapshot returns the instance's durable state, reading from the cache
// when loaded and falling back to the store
func (h *Host) Snapshot(
	ctx context.Context, id api.InstanceID,
) (*api.Snapshot, error) {
	if in, ok := h.cache.Get(id); ok {
		return in.Snapshot(), nil
	}
	snap, err := h.store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return snap, err
}

// Terminate forcibly ends an instance and removes its durable state
func (h *Host) Terminate(ctx context.Context, id api.InstanceID) error {
	in, ok := h.cache.Get(id)
	if !ok {
		if _, err := h.store.Load(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
			}
			return err
		}
		return h.store.Delete(ctx, id)
	}

	if err := in.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire instance %s: %w", id, err)
	}
	defer in.Release()

	h.idle.cancel(id)
	in.Stop()
	h.cache.Remove(id)
	if err := h.store.Delete(ctx, id); err != nil {
		return err
	}
	h.hub.Publish(api.EventTypeInstanceTerminated, id, "terminated by operator")
	return nil
}

// Query returns the identifiers of instances whose state matches value at
// the given gjson path. Both loaded and stored instances are searched
func (h *Host) Query(
	ctx context.Context, path, value string,
) ([]api.InstanceID, error) {
	seen := map[api.InstanceID]bool{}
	var matched []api.InstanceID

	check := func(snap *api.Snapshot) error {
		if snap == nil || seen[snap.ID] {
			return nil
		}
		seen[snap.ID] = true
		data, err := json.Marshal(snap.State)
		if err != nil {
			return err
		}
		if gjson.GetBytes(data, path).String() == value {
			matched = append(matched, snap.ID)
		}
		return nil
	}

	for _, in := range h.cache.Instances() {
		if err := check(in.Snapshot()); err != nil {
			return nil, err
		}
	}

	ids, err := h.store.IDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		snap, err := h.store.Load(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := check(snap); err != nil {
			return nil, err
		}
	}
	return matched, nil
}

// Close checkpoints every loaded, still-running instance and stops its run
// loop. The context bounds how long shutdown may take
func (h *Host) Close(ctx context.Context) error {
	h.idle.stop()

	var errs []error
	for _, in := range h.cache.Instances() {
		if err := in.Acquire(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if !in.Status().IsTerminal() {
			if err := h.persistSnapshot(ctx, in.Checkpoint()); err != nil {
				errs = append(errs, err)
			}
		}
		in.Stop()
		in.Release()
		h.cache.Remove(in.APIID())
	}
	return errors.Join(errs...)
}

// createInstance builds, registers, and starts a new instance
func (h *Host) createInstance() *instance.Instance {
	in := instance.New(h.def, h.bases, h.observe, h.persistSnapshot)
	h.cache.Add(in)
	in.Start()

	h.logger.Info("Instance created", log.InstanceID(in.APIID()))
	h.hub.Publish(api.EventTypeInstanceCreated, in.APIID(), "")
	if h.onCreate != nil {
		h.onCreate(in)
	}
	return in
}

// loadInstance returns the cached instance or reloads it from the store.
// Concurrent loads of the same identifier are collapsed into one
func (h *Host) loadInstance(
	ctx context.Context, id api.InstanceID,
) (*instance.Instance, error) {
	if in, ok := h.cache.Get(id); ok {
		return in, nil
	}

	h.loadMu.Lock()
	if in, ok := h.cache.Get(id); ok {
		h.loadMu.Unlock()
		return in, nil
	}
	if fl, ok := h.loading[id]; ok {
		h.loadMu.Unlock()
		select {
		case <-fl.done:
			return fl.in, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	h.loading[id] = fl
	h.loadMu.Unlock()

	fl.in, fl.err = h.reload(ctx, id)
	close(fl.done)

	h.loadMu.Lock()
	delete(h.loading, id)
	h.loadMu.Unlock()
	return fl.in, fl.err
}

func (h *Host) reload(
	ctx context.Context, id api.InstanceID,
) (*instance.Instance, error) {
	snap, err := h.store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	if err != nil {
		return nil, err
	}

	in, err := instance.NewFromSnapshot(
		snap, h.def, h.bases, h.observe, h.persistSnapshot,
	)
	if err != nil {
		return nil, err
	}
	h.cache.Add(in)
	in.Start()

	h.logger.Info("Instance loaded",
		log.InstanceID(id), slog.Int64("version", snap.Version))
	h.hub.Publish(api.EventTypeInstanceLoaded, id, "")
	return in, nil
}

// observe routes lifecycle transitions to the idle controller and the
// event hub. Terminal transitions also finalize durable state
func (h *Host) observe(typ api.EventType, in *instance.Instance) {
	id := in.APIID()
	switch typ {
	case api.EventTypeInstanceIdle:
		h.idle.schedule(in)
		h.hub.Publish(typ, id, "")

	case api.EventTypeInstanceBusy:
		h.idle.cancel(id)
		h.hub.Publish(typ, id, "")

	case api.EventTypeInstanceCompleted:
		h.idle.cancel(id)
		h.hub.Publish(typ, id, "")
		go h.finalize(id)

	case api.EventTypeInstanceTerminated:
		h.idle.cancel(id)
		detail := ""
		if err := in.TerminationError(); err != nil {
			h.logger.Error("Instance terminated",
				log.InstanceID(id), log.Error(err))
			detail = err.Error()
		}
		h.hub.Publish(typ, id, detail)
		go h.finalize(id)

	default:
		h.hub.Publish(typ, id, "")
	}
}

// finalize drops a finished instance from both cache and store
func (h *Host) finalize(id api.InstanceID) {
	h.cache.Remove(id)

	ctx, cancel := context.WithTimeout(
		context.Background(), h.cfg.ShutdownTimeout,
	)
	defer cancel()
	if err := h.store.Delete(ctx, id); err != nil {
		h.logger.Warn("Failed to remove instance state",
			log.InstanceID(id), log.Error(err))
	}
}

// persistSnapshot writes a checkpoint, stamping it with the host clock
func (h *Host) persistSnapshot(
	ctx context.Context, snap *api.Snapshot,
) error {
	snap.UpdatedAt = h.clock()
	if err := h.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist instance %s: %w", snap.ID, err)
	}
	return nil
}
