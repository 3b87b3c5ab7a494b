// Package uritemplate matches request URIs against registered templates of
// the form "/orders/{id}?expand={detail}". Literal path segments compare
// case-insensitively; bound parameter names are exposed upper-cased, which
// downstream handlers rely on when looking up path and query parameters.
package uritemplate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type (
	// Template is a parsed URI template relative to a base address
	Template struct {
		raw   string
		path  []segment
		query []queryParam
	}

	segment struct {
		literal string
		name    string
		isVar   bool
	}

	queryParam struct {
		key   string
		value string
		name  string
		isVar bool
	}
)

var (
	ErrInvalidTemplate = errors.New("invalid URI template")
	ErrEmptyVariable   = errors.New("template variable has no name")
)

// Parse compiles a raw template string. Path segments of the form "{name}"
// and query values of the form "k={name}" declare named variables
func Parse(raw string) (*Template, error) {
	pathPart := raw
	queryPart := ""
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		pathPart, queryPart = raw[:i], raw[i+1:]
	}

	t := &Template{raw: raw}

	for _, part := range splitPath(pathPart) {
		seg, err := parseSegment(raw, part)
		if err != nil {
			return nil, err
		}
		t.path = append(t.path, seg)
	}

	if queryPart != "" {
		params, err := parseQuery(raw, queryPart)
		if err != nil {
			return nil, err
		}
		t.query = params
	}

	return t, nil
}

// String returns the raw template text
func (t *Template) String() string {
	return t.raw
}

// Match attempts to bind the template against a request path (relative to
// the base address) and query values. Bound parameter names are upper-cased
func (t *Template) Match(path string, query url.Values) (
	map[string]string, bool,
) {
	parts := splitPath(path)
	if len(parts) != len(t.path) {
		return nil, false
	}

	params := map[string]string{}
	for i, seg := range t.path {
		if seg.isVar {
			params[strings.ToUpper(seg.name)] = parts[i]
			continue
		}
		if !strings.EqualFold(seg.literal, parts[i]) {
			return nil, false
		}
	}

	for _, qp := range t.query {
		if !query.Has(qp.key) {
			return nil, false
		}
		val := query.Get(qp.key)
		if qp.isVar {
			params[strings.ToUpper(qp.name)] = val
			continue
		}
		if val != qp.value {
			return nil, false
		}
	}

	return params, true
}

// IsEquivalent reports whether two templates are structurally
// interchangeable, meaning every URI one matches the other matches too
func (t *Template) IsEquivalent(other *Template) bool {
	if len(t.path) != len(other.path) ||
		len(t.query) != len(other.query) {
		return false
	}

	for i, seg := range t.path {
		o := other.path[i]
		if seg.isVar != o.isVar {
			return false
		}
		if !seg.isVar && !strings.EqualFold(seg.literal, o.literal) {
			return false
		}
	}

	for _, qp := range t.query {
		o, ok := findQueryParam(other.query, qp.key)
		if !ok || o.isVar != qp.isVar {
			return false
		}
		if !qp.isVar && o.value != qp.value {
			return false
		}
	}

	return true
}

func parseSegment(raw, part string) (segment, error) {
	if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
		name := part[1 : len(part)-1]
		if name == "" {
			return segment{}, fmt.Errorf("%w: %s", ErrEmptyVariable, raw)
		}
		if strings.ContainsAny(name, "{}") {
			return segment{}, fmt.Errorf("%w: %s", ErrInvalidTemplate, raw)
		}
		return segment{name: name, isVar: true}, nil
	}
	if strings.ContainsAny(part, "{}") {
		return segment{}, fmt.Errorf("%w: %s", ErrInvalidTemplate, raw)
	}
	return segment{literal: part}, nil
}

func parseQuery(raw, queryPart string) ([]queryParam, error) {
	var params []queryParam
	for _, pair := range strings.Split(queryPart, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTemplate, raw)
		}
		if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
			name := value[1 : len(value)-1]
			if name == "" {
				return nil, fmt.Errorf("%w: %s", ErrEmptyVariable, raw)
			}
			params = append(params, queryParam{
				key: key, name: name, isVar: true,
			})
			continue
		}
		if strings.ContainsAny(value, "{}") {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTemplate, raw)
		}
		params = append(params, queryParam{key: key, value: value})
	}
	return params, nil
}

func findQueryParam(params []queryParam, key string) (queryParam, bool) {
	for _, qp := range params {
		if qp.key == key {
			return qp, true
		}
	}
	return queryParam{}, false
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
