package host

import (
	"context"
	"sync"
	"time"

	"github.com/flowmark/flowmark/internal/instance"
	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/log"
)

type (
	// idleController tracks idle instances and applies the configured
	// time-to-persist and time-to-unload policies. Each idle transition
	// starts a watch; the next busy transition cancels it
	idleController struct {
		host    *Host
		mu      sync.Mutex
		pending map[api.InstanceID]*idleWatch
		stopped bool
	}

	idleWatch struct {
		persist Timer
		unload  Timer
		stop    chan struct{}
		once    sync.Once
	}
)

func newIdleController(h *Host) *idleController {
	return &idleController{
		host:    h,
		pending: map[api.InstanceID]*idleWatch{},
	}
}

// schedule begins watching a freshly idle instance. The watch's timers are
// constructed under the controller lock, after the superseded watch has
// been canceled, so a timer that exists always belongs to the most recent
// idle transition at the moment it was built
func (ic *idleController) schedule(in *instance.Instance) {
	cfg := ic.host.cfg
	if !cfg.PersistOnIdle() && !cfg.UnloadOnIdle() {
		return
	}

	ic.mu.Lock()
	if ic.stopped {
		ic.mu.Unlock()
		return
	}
	if prev, ok := ic.pending[in.APIID()]; ok {
		prev.cancel()
	}

	w := &idleWatch{stop: make(chan struct{})}
	if cfg.PersistOnIdle() {
		w.persist = ic.host.newTimer(cfg.TimeToPersist)
	}
	if cfg.UnloadOnIdle() {
		w.unload = ic.host.newTimer(cfg.TimeToUnload)
	}
	ic.pending[in.APIID()] = w
	ic.mu.Unlock()

	go ic.watch(in, w)
}

// cancel stops the instance's idle watch, if any
func (ic *idleController) cancel(id api.InstanceID) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if w, ok := ic.pending[id]; ok {
		w.cancel()
		delete(ic.pending, id)
	}
}

// remove drops the watch's own map entry, leaving any successor intact
func (ic *idleController) remove(id api.InstanceID, w *idleWatch) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.pending[id] == w {
		delete(ic.pending, id)
	}
}

// stop cancels every idle watch
func (ic *idleController) stop() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.stopped = true
	for id, w := range ic.pending {
		w.cancel()
		delete(ic.pending, id)
	}
}

func (ic *idleController) watch(in *instance.Instance, w *idleWatch) {
	defer w.stopTimers()

	var persistCh, unloadCh <-chan time.Time
	if w.persist != nil {
		persistCh = w.persist.Channel()
	}
	if w.unload != nil {
		unloadCh = w.unload.Channel()
	}

	for {
		select {
		case <-w.stop:
			return

		case <-persistCh:
			if w.canceled() {
				return
			}
			ic.persistIdle(in)
			persistCh = nil

		case <-unloadCh:
			if w.canceled() {
				return
			}
			if ic.unloadIdle(in) {
				ic.remove(in.APIID(), w)
				return
			}
			w.unload.Reset(ic.host.cfg.TimeToUnload)
		}
	}
}

// persistIdle checkpoints an instance that has stayed idle past the
// time-to-persist threshold. A busy instance is skipped; its next idle
// transition starts a new watch
func (ic *idleController) persistIdle(in *instance.Instance) {
	if !in.TryAcquire() {
		return
	}
	defer in.Release()

	if in.Status() != api.InstanceIdle {
		return
	}

	h := ic.host
	ctx, cancel := ic.opContext()
	defer cancel()
	if err := h.persistSnapshot(ctx, in.Checkpoint()); err != nil {
		h.logger.Warn("Idle checkpoint failed",
			log.InstanceID(in.APIID()), log.Error(err))
		return
	}
	h.hub.Publish(api.EventTypeInstancePersisted, in.APIID(), "idle")
}

// unloadIdle checkpoints and evicts an instance that has stayed idle past
// the time-to-unload threshold. Returns false when the unload should be
// retried after another interval
func (ic *idleController) unloadIdle(in *instance.Instance) bool {
	if !in.TryAcquire() {
		return false
	}
	defer in.Release()

	if in.Status() != api.InstanceIdle {
		return false
	}

	h := ic.host
	if h.onUnload != nil && !h.onUnload(in) {
		return false
	}

	ctx, cancel := ic.opContext()
	defer cancel()
	if err := h.persistSnapshot(ctx, in.Checkpoint()); err != nil {
		h.logger.Warn("Unload checkpoint failed",
			log.InstanceID(in.APIID()), log.Error(err))
		return false
	}

	in.Unload()
	h.cache.Remove(in.APIID())
	h.logger.Info("Instance unloaded", log.InstanceID(in.APIID()))
	h.hub.Publish(api.EventTypeInstanceUnloaded, in.APIID(), "idle")
	return true
}

func (ic *idleController) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(
		context.Background(), ic.host.cfg.ShutdownTimeout,
	)
}

func (w *idleWatch) cancel() {
	w.once.Do(func() {
		close(w.stop)
	})
}

func (w *idleWatch) stopTimers() {
	if w.persist != nil {
		w.persist.Stop()
	}
	if w.unload != nil {
		w.unload.Stop()
	}
}

func (w *idleWatch) canceled() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}
