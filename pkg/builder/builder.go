// Package builder provides a fluent interface for assembling workflow
// definitions. Each step returns a copy, so partially built workflows can
// be shared and specialized without interference.
package builder

import (
	"github.com/flowmark/flowmark/pkg/workflow"
)

type (
	// Workflow accumulates receive points for a definition
	Workflow struct {
		name     string
		receives []*workflow.ReceivePoint
	}

	// Receive configures a single receive point before its handler is
	// attached
	Receive struct {
		flow  *Workflow
		point workflow.ReceivePoint
	}
)

// NewWorkflow starts a definition with the given name
func NewWorkflow(name string) *Workflow {
	return &Workflow{name: name}
}

// Receive begins a receive point listening for the method and URI template
func (w *Workflow) Receive(method, template string) *Receive {
	return &Receive{
		flow: w,
		point: workflow.ReceivePoint{
			Method:   method,
			Template: template,
		},
	}
}

// Build validates and returns the assembled definition
func (w *Workflow) Build() (*workflow.Definition, error) {
	def := &workflow.Definition{
		Name:     w.name,
		Receives: w.receives,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// MustBuild is Build for static definitions, panicking on error
func (w *Workflow) MustBuild() *workflow.Definition {
	def, err := w.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// CreatesInstance permits uncorrelated requests to create a new instance
// at this receive point
func (r *Receive) CreatesInstance() *Receive {
	res := *r
	res.point.CanCreateInstance = true
	return &res
}

// PersistsBeforeSend checkpoints the instance before the response is
// released
func (r *Receive) PersistsBeforeSend() *Receive {
	res := *r
	res.point.PersistBeforeSend = true
	return &res
}

// Handle attaches the handler and adds the receive point to the workflow
func (r *Receive) Handle(h workflow.Handler) *Workflow {
	point := r.point
	point.Handler = h

	res := *r.flow
	res.receives = make([]*workflow.ReceivePoint, len(r.flow.receives)+1)
	copy(res.receives, r.flow.receives)
	res.receives[len(r.flow.receives)] = &point
	return &res
}
