package workflow_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmark/flowmark/pkg/workflow"
)

func noopHandler(
	context.Context, *workflow.Invocation,
) (any, error) {
	return nil, nil
}

func TestValidate(t *testing.T) {
	def := &workflow.Definition{Name: "empty"}
	assert.ErrorIs(t, def.Validate(), workflow.ErrNoReceivePoints)

	def = &workflow.Definition{
		Name: "no-method",
		Receives: []*workflow.ReceivePoint{
			{Template: "orders", Handler: noopHandler},
		},
	}
	assert.ErrorIs(t, def.Validate(), workflow.ErrNoMethod)

	def = &workflow.Definition{
		Name: "no-handler",
		Receives: []*workflow.ReceivePoint{
			{Method: "GET", Template: "orders"},
		},
	}
	assert.ErrorIs(t, def.Validate(), workflow.ErrNoHandler)

	def = &workflow.Definition{
		Name: "ok",
		Receives: []*workflow.ReceivePoint{
			{Method: "GET", Template: "orders", Handler: noopHandler},
		},
	}
	assert.NoError(t, def.Validate())
}

func TestBookmarkName(t *testing.T) {
	base, err := url.Parse("http://localhost:8080/app/")
	require.NoError(t, err)

	rp := &workflow.ReceivePoint{Method: "POST", Template: "orders/{id}"}
	assert.Equal(t,
		"POST|http://localhost:8080/app/orders/{id}",
		rp.BookmarkName(base))

	// Leading slash on the template does not double up
	rp = &workflow.ReceivePoint{Method: "GET", Template: "/status"}
	assert.Equal(t,
		"GET|http://localhost:8080/app/status",
		rp.BookmarkName(base))
}

func TestCompleteUnwrap(t *testing.T) {
	result, completed := workflow.Unwrap(workflow.Complete("done"))
	assert.True(t, completed)
	assert.Equal(t, "done", result)

	result, completed = workflow.Unwrap("plain")
	assert.False(t, completed)
	assert.Equal(t, "plain", result)

	result, completed = workflow.Unwrap(nil)
	assert.False(t, completed)
	assert.Nil(t, result)
}
