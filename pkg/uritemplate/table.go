package uritemplate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type (
	// Table holds the templates registered under a single base address.
	// Registration order is preserved; the first matching entry wins
	Table struct {
		base    *url.URL
		entries []*Entry
	}

	// Entry associates a method and template with opaque caller data
	Entry struct {
		Method   string
		Template *Template
		Data     any
	}

	// TableSet matches a request against the tables of every base address
	TableSet struct {
		tables []*Table
	}
)

var (
	ErrDuplicateTemplate = errors.New(
		"equivalent template already registered for method",
	)
	ErrNilBaseAddress = errors.New("base address must not be nil")
)

// NewTable creates an empty template table for the given base address
func NewTable(base *url.URL) (*Table, error) {
	if base == nil {
		return nil, ErrNilBaseAddress
	}
	return &Table{base: base}, nil
}

// Base returns the table's base address
func (t *Table) Base() *url.URL {
	return t.base
}

// Len returns the number of registered entries
func (t *Table) Len() int {
	return len(t.entries)
}

// Add parses and registers a template for the given method. An equivalent
// template already registered under the same method is rejected, which is
// what guarantees bookmark-name uniqueness per base address
func (t *Table) Add(method, raw string, data any) error {
	tmpl, err := Parse(raw)
	if err != nil {
		return err
	}

	for _, e := range t.entries {
		if e.Method == method && e.Template.IsEquivalent(tmpl) {
			return fmt.Errorf("%w: %s %s", ErrDuplicateTemplate, method, raw)
		}
	}

	t.entries = append(t.entries, &Entry{
		Method:   method,
		Template: tmpl,
		Data:     data,
	})
	return nil
}

// Match finds the first entry whose template matches the request path and
// whose method equals the request method. Methods compare case-sensitively;
// the base address path prefix compares case-sensitively as well
func (t *Table) Match(method string, u *url.URL) (
	*Entry, map[string]string, bool,
) {
	rel, ok := t.relativePath(u.Path)
	if !ok {
		return nil, nil, false
	}

	for _, e := range t.entries {
		if e.Method != method {
			continue
		}
		if params, ok := e.Template.Match(rel, u.Query()); ok {
			return e, params, true
		}
	}
	return nil, nil, false
}

func (t *Table) relativePath(path string) (string, bool) {
	basePath := t.base.Path
	if basePath == "" {
		basePath = "/"
	}
	if !strings.HasPrefix(path, basePath) {
		return "", false
	}
	return path[len(basePath):], true
}

// NewTableSet builds one table per base address
func NewTableSet(bases ...*url.URL) (*TableSet, error) {
	ts := &TableSet{}
	for _, base := range bases {
		table, err := NewTable(base)
		if err != nil {
			return nil, err
		}
		ts.tables = append(ts.tables, table)
	}
	return ts, nil
}

// Tables returns the per-base-address tables in registration order
func (ts *TableSet) Tables() []*Table {
	return ts.tables
}

// Add registers the template in every table
func (ts *TableSet) Add(method, raw string, data any) error {
	for _, table := range ts.tables {
		if err := table.Add(method, raw, data); err != nil {
			return err
		}
	}
	return nil
}

// Match tries each base address table in order and returns the first match
// along with the table whose base address matched
func (ts *TableSet) Match(method string, u *url.URL) (
	*Entry, *Table, map[string]string, bool,
) {
	for _, table := range ts.tables {
		if e, params, ok := table.Match(method, u); ok {
			return e, table, params, true
		}
	}
	return nil, nil, nil, false
}
