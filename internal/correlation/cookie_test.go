package correlation_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmark/flowmark/internal/correlation"
)

func TestEncode(t *testing.T) {
	id := uuid.New()
	header := http.Header{}

	correlation.Encode(header, id)

	assert.Equal(t,
		"WorkflowInstance="+id.String(), header.Get("Set-Cookie"))
}

func TestDecodeRoundTrip(t *testing.T) {
	id := uuid.New()
	header := http.Header{}
	correlation.Encode(header, id)

	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Cookie", header.Get("Set-Cookie"))

	decoded, ok := correlation.Decode(r)
	require.True(t, ok)
	assert.Equal(t, id, decoded)
}

func TestDecodeAmongOtherCookies(t *testing.T) {
	id := uuid.New()
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Cookie",
		"session=abc123; WorkflowInstance="+id.String()+"; theme=dark")

	decoded, ok := correlation.Decode(r)
	require.True(t, ok)
	assert.Equal(t, id, decoded)
}

func TestDecodeMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	_, ok := correlation.Decode(r)
	assert.False(t, ok)

	r.Header.Set("Cookie", "session=abc123")
	_, ok = correlation.Decode(r)
	assert.False(t, ok)
}

func TestDecodeGarbledValue(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Cookie", "WorkflowInstance=not-a-uuid")

	_, ok := correlation.Decode(r)
	assert.False(t, ok)
}

func TestDecodeNilUUID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Cookie", "WorkflowInstance="+uuid.Nil.String())

	_, ok := correlation.Decode(r)
	assert.False(t, ok)
}
