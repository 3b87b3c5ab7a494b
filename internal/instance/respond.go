package instance

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/flowmark/flowmark/pkg/api"
)

// xmlValue wraps results that encoding/xml cannot marshal directly, such as
// maps and primitive values
type xmlValue struct {
	XMLName xml.Name `xml:"value"`
	Value   string   `xml:",chardata"`
}

// buildResponse turns a handler result into the HTTP response the
// dispatcher releases. A *api.Response result bypasses negotiation; any
// other non-nil result is serialized as JSON when the request accepts it,
// XML otherwise
func buildResponse(r *http.Request, result any) (*api.Response, error) {
	if resp, ok := result.(*api.Response); ok {
		if resp.StatusCode == 0 {
			resp.StatusCode = http.StatusOK
		}
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		return resp, nil
	}

	resp := &api.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
	}
	if result == nil {
		return resp, nil
	}

	if acceptsJSON(r) {
		body, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal response: %w", err)
		}
		resp.ContentType = api.JSONMediaType
		resp.Body = body
		return resp, nil
	}

	body, err := xml.Marshal(result)
	if err != nil {
		// Not everything has an XML shape; fall back to a generic value
		// element so the fallback format never fails the instance
		body, err = xml.Marshal(xmlValue{Value: fmt.Sprint(result)})
		if err != nil {
			return nil, fmt.Errorf("marshal response: %w", err)
		}
	}
	resp.ContentType = api.XMLMediaType
	resp.Body = body
	return resp, nil
}

// acceptsJSON reports whether any Accept header entry names a JSON media
// type. Absent or non-JSON Accept headers select the XML fallback
func acceptsJSON(r *http.Request) bool {
	for _, header := range r.Header.Values("Accept") {
		for _, part := range strings.Split(header, ",") {
			mt, _, _ := strings.Cut(part, ";")
			mt = strings.TrimSpace(mt)
			if strings.EqualFold(mt, api.JSONMediaType) ||
				strings.EqualFold(mt, api.JSONTextMediaType) {
				return true
			}
		}
	}
	return false
}
