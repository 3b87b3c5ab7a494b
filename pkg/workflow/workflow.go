// Package workflow declares the shape of a hostable workflow: an immutable
// set of receive points, each pairing an HTTP method and URI template with
// the handler invoked when a matching request is delivered.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/flowmark/flowmark/pkg/api"
)

type (
	// Definition is an immutable workflow description, compiled once per
	// host into per-base-address template tables
	Definition struct {
		Name     string
		Receives []*ReceivePoint
	}

	// ReceivePoint declares an address at which an instance can accept an
	// incoming request
	ReceivePoint struct {
		// Method is the HTTP method to listen for
		Method string

		// Template is the URI template relative to the base address
		Template string

		// CanCreateInstance permits an uncorrelated request to create a
		// new instance at this receive point
		CanCreateInstance bool

		// PersistBeforeSend checkpoints the instance before the response
		// is released, trading latency for at-least-once delivery
		PersistBeforeSend bool

		// Handler is the downstream body logic
		Handler Handler
	}

	// Invocation carries a delivered request into a receive handler
	Invocation struct {
		Request *http.Request

		// Params holds path and query parameters bound by the URI
		// template match, keyed by upper-cased name
		Params map[string]string

		// State is the instance's durable user state. Mutations persist
		// with the instance
		State api.Vars
	}

	// Handler is the downstream body logic of a receive point. The result
	// becomes the response body after content negotiation, unless it is a
	// *api.Response, which is sent as-is. Wrap the result with Complete to
	// finish the instance after responding
	Handler func(ctx context.Context, inv *Invocation) (any, error)

	completion struct {
		result any
	}
)

var (
	ErrNoReceivePoints = errors.New(
		"definition must contain at least one receive point",
	)
	ErrNoHandler = errors.New("receive point has no handler")
	ErrNoMethod  = errors.New("receive point has no method")
)

// Validate checks the definition can be hosted
func (d *Definition) Validate() error {
	if len(d.Receives) == 0 {
		return fmt.Errorf("%w: %s", ErrNoReceivePoints, d.Name)
	}
	for _, rp := range d.Receives {
		if rp.Method == "" {
			return fmt.Errorf("%w: %s %s", ErrNoMethod, d.Name, rp.Template)
		}
		if rp.Handler == nil {
			return fmt.Errorf("%w: %s %s %s",
				ErrNoHandler, d.Name, rp.Method, rp.Template)
		}
	}
	return nil
}

// BookmarkName derives the deterministic suspension point name for this
// receive point under the given base address:
// "{METHOD}|{base-address}{template}"
func (rp *ReceivePoint) BookmarkName(base *url.URL) string {
	addr := strings.TrimRight(base.String(), "/")
	tmpl := "/" + strings.TrimLeft(rp.Template, "/")
	return rp.Method + "|" + addr + tmpl
}

// Complete wraps a handler result to signal that the instance should
// complete once the response has been produced
func Complete(result any) any {
	return completion{result: result}
}

// Unwrap splits a handler result into its payload and a completion flag
func Unwrap(result any) (any, bool) {
	if c, ok := result.(completion); ok {
		return c.result, true
	}
	return result, false
}
