package log_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowmark/flowmark/pkg/log"
)

func TestAttrs(t *testing.T) {
	attr := log.InstanceID("inst-1")
	assert.Equal(t, "instance_id", attr.Key)
	assert.Equal(t, "inst-1", attr.Value.String())

	assert.Equal(t, "bookmark", log.Bookmark("POST|/counter").Key)
	assert.Equal(t, "status", log.Status("idle").Key)
	assert.Equal(t, "", log.Error(nil).Value.String())
}

func TestDiscard(t *testing.T) {
	logger := log.Discard()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}
