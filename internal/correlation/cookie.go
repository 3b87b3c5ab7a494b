// Package correlation encodes and decodes the cookie that links a client's
// sequence of requests to one workflow instance.
package correlation

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CookieName is the cookie key carrying the instance identifier
const CookieName = "WorkflowInstance"

const prefix = CookieName + "="

// Encode appends a Set-Cookie header carrying the instance identifier. No
// scoping attributes are set; the protocol relies on broadest-scope cookies
func Encode(header http.Header, id uuid.UUID) {
	header.Add("Set-Cookie", prefix+id.String())
}

// Decode scans the request's Cookie headers for the first value prefixed
// with the instance cookie name. Absent or unparsable values decode as
// "no correlation"
func Decode(r *http.Request) (uuid.UUID, bool) {
	for _, header := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(header, ";") {
			part = strings.TrimSpace(part)
			if !strings.HasPrefix(part, prefix) {
				continue
			}
			id, err := uuid.Parse(strings.TrimPrefix(part, prefix))
			if err != nil || id == uuid.Nil {
				continue
			}
			return id, true
		}
	}
	return uuid.Nil, false
}
