package uritemplate_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmark/flowmark/pkg/uritemplate"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestTableRejectsDuplicates(t *testing.T) {
	table, err := uritemplate.NewTable(mustURL(t, "http://localhost:8080/"))
	require.NoError(t, err)

	require.NoError(t, table.Add("GET", "orders/{id}", nil))

	// Equivalent template under the same method is ambiguous
	err = table.Add("GET", "orders/{orderID}", nil)
	assert.ErrorIs(t, err, uritemplate.ErrDuplicateTemplate)

	// Same shape under a different method is fine
	assert.NoError(t, table.Add("DELETE", "orders/{id}", nil))
}

func TestTableMatch(t *testing.T) {
	table, err := uritemplate.NewTable(mustURL(t, "http://localhost:8080/"))
	require.NoError(t, err)

	require.NoError(t, table.Add("GET", "orders/{id}", "get-order"))
	require.NoError(t, table.Add("POST", "orders", "create-order"))

	entry, params, ok := table.Match(
		"GET", mustURL(t, "http://localhost:8080/orders/42"),
	)
	require.True(t, ok)
	assert.Equal(t, "get-order", entry.Data)
	assert.Equal(t, "42", params["ID"])

	// Method mismatch
	_, _, ok = table.Match(
		"PUT", mustURL(t, "http://localhost:8080/orders/42"),
	)
	assert.False(t, ok)

	// Path outside the base address
	_, _, ok = table.Match(
		"GET", mustURL(t, "http://localhost:8080/other/42"),
	)
	assert.False(t, ok)
}

func TestTableFirstRegisteredWins(t *testing.T) {
	table, err := uritemplate.NewTable(mustURL(t, "http://localhost:8080/"))
	require.NoError(t, err)

	require.NoError(t, table.Add("GET", "orders/new", "literal"))
	require.NoError(t, table.Add("GET", "orders/{id}", "variable"))

	entry, _, ok := table.Match(
		"GET", mustURL(t, "http://localhost:8080/orders/new"),
	)
	require.True(t, ok)
	assert.Equal(t, "literal", entry.Data)
}

func TestTableSetMatchesAcrossBases(t *testing.T) {
	ts, err := uritemplate.NewTableSet(
		mustURL(t, "http://localhost:8080/app/"),
		mustURL(t, "http://localhost:8080/other/"),
	)
	require.NoError(t, err)
	require.NoError(t, ts.Add("GET", "status", nil))

	_, table, _, ok := ts.Match(
		"GET", mustURL(t, "http://localhost:8080/other/status"),
	)
	require.True(t, ok)
	assert.Equal(t, "/other/", table.Base().Path)

	_, _, _, ok = ts.Match(
		"GET", mustURL(t, "http://localhost:8080/missing/status"),
	)
	assert.False(t, ok)
}

func TestNewTableNilBase(t *testing.T) {
	_, err := uritemplate.NewTable(nil)
	assert.ErrorIs(t, err, uritemplate.ErrNilBaseAddress)
}
