package host

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"

	"github.com/flowmark/flowmark/internal/correlation"
	"github.com/flowmark/flowmark/internal/instance"
	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/log"
	"github.com/flowmark/flowmark/pkg/workflow"
)

var (
	// ErrNoCorrelation means the request carried no instance cookie and the
	// matched receive point cannot create instances
	ErrNoCorrelation = errors.New("request carries no instance correlation")

	// ErrDispatchTimeout means the workflow timeout elapsed before the
	// instance produced a response. Any in-flight work continues
	ErrDispatchTimeout = errors.New("timed out waiting for workflow")
)

// Dispatch correlates the request to an instance, resumes the matching
// bookmark, and relays the produced response. Unmatched requests and
// unknown or finished instances yield 404; dispatch failures yield 500
func (h *Host) Dispatch(w http.ResponseWriter, r *http.Request) {
	entry, table, params, ok := h.tables.Match(r.Method, r.URL)
	if !ok {
		h.respondError(w, http.StatusNotFound,
			"no receive point matches the request", nil)
		return
	}
	rp := entry.Data.(*workflow.ReceivePoint)
	bookmark := rp.BookmarkName(table.Base())

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WorkflowTimeout)
	defer cancel()

	in, status, err := h.correlate(ctx, r, rp)
	if err != nil {
		h.respondError(w, status, "instance not available", err)
		return
	}

	d := &instance.Delivery{
		Bookmark: bookmark,
		Point:    rp,
		Request:  r,
		Params:   params,
		Response: make(chan *api.Response, 1),
	}

	resumed, err := h.deliver(ctx, in, d)
	if err != nil {
		h.respondError(w, deliverStatus(err), "could not resume instance", err)
		return
	}

	h.await(ctx, w, resumed, d)
}

// correlate resolves the request to an instance: an existing one named by
// its cookie, or a fresh one when the receive point permits creation
func (h *Host) correlate(
	ctx context.Context, r *http.Request, rp *workflow.ReceivePoint,
) (*instance.Instance, int, error) {
	id, ok := correlation.Decode(r)
	if !ok {
		if !rp.CanCreateInstance {
			return nil, http.StatusNotFound, ErrNoCorrelation
		}
		return h.createInstance(), 0, nil
	}

	in, err := h.loadInstance(ctx, api.InstanceID(id.String()))
	if errors.Is(err, ErrUnknownInstance) {
		return nil, http.StatusNotFound, err
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return in, 0, nil
}

// deliver acquires the instance's episode lock and resumes the bookmark,
// retrying with exponential backoff while the instance is between
// transitions. An instance that unloads while we wait is reloaded, so the
// returned handle, whose lock the caller must release, may differ from in
func (h *Host) deliver(
	ctx context.Context, in *instance.Instance, d *instance.Delivery,
) (*instance.Instance, error) {
	for {
		if err := in.Acquire(ctx); err != nil {
			return nil, ErrDispatchTimeout
		}

		err := h.resume(ctx, in, d)
		if err == nil {
			return in, nil
		}
		in.Release()

		if errors.Is(err, instance.ErrFinished) &&
			in.Status() == api.InstanceUnloaded {
			reloaded, lerr := h.loadInstance(ctx, in.APIID())
			if lerr != nil {
				return nil, lerr
			}
			in = reloaded
			continue
		}
		return nil, err
	}
}

func (h *Host) resume(
	ctx context.Context, in *instance.Instance, d *instance.Delivery,
) error {
	counter := &backoff.Counter{
		Strategy: resumeStrategy(
			h.cfg.ResumeBackoff,
			h.cfg.ResumeBackoffFactor,
			h.cfg.WorkflowTimeout,
		),
	}

	for {
		err := in.TryResume(d)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, instance.ErrNotReady):
			if in.Status() == api.InstanceActivating {
				// First activation: wait for the run loop to arm its
				// bookmarks instead of spinning
				if werr := in.WaitIdleAt(ctx, d.Bookmark); werr != nil {
					return werr
				}
				continue
			}
			if serr := counter.Sleep(ctx, err); serr != nil {
				return ErrDispatchTimeout
			}

		default:
			return err
		}
	}
}

// await blocks on the response future, unblocking early if the instance
// terminates without responding or the workflow timeout elapses. The
// episode lock is released once the outcome is known
func (h *Host) await(
	ctx context.Context, w http.ResponseWriter,
	in *instance.Instance, d *instance.Delivery,
) {
	defer in.Release()

	select {
	case resp := <-d.Response:
		h.writeResponse(w, resp)

	case <-in.Done():
		// The response send precedes the done signal, so drain it first
		select {
		case resp := <-d.Response:
			h.writeResponse(w, resp)
		default:
			h.respondError(w, http.StatusInternalServerError,
				"instance terminated", in.TerminationError())
		}

	case <-ctx.Done():
		h.respondError(w, http.StatusInternalServerError,
			"workflow did not respond in time", ErrDispatchTimeout)
	}
}

func (h *Host) writeResponse(w http.ResponseWriter, resp *api.Response) {
	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func (h *Host) respondError(
	w http.ResponseWriter, status int, msg string, err error,
) {
	if err != nil && status >= http.StatusInternalServerError {
		h.logger.Error("Dispatch failed", log.Error(err))
	}
	body := &api.ErrorResponse{Error: msg, Status: status}
	if err != nil && h.cfg.IncludeErrorDetails {
		body.Error = msg + ": " + err.Error()
	}

	data, merr := json.Marshal(body)
	if merr != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", api.JSONMediaType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func deliverStatus(err error) int {
	switch {
	case errors.Is(err, instance.ErrFinished):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownInstance):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// resumeStrategy grows the retry delay geometrically from unit, capped so a
// single sleep never exceeds the workflow timeout
func resumeStrategy(
	unit time.Duration, factor float64, cap time.Duration,
) backoff.Strategy {
	exponential := func(_ error, n uint) time.Duration {
		return time.Duration(float64(unit) * math.Pow(factor, float64(n)))
	}
	return backoff.WithTransforms(
		exponential,
		linger.Limiter(0, cap),
	)
}
