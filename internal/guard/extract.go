package guard

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// BusinessField is the default request field naming the business scope.
const BusinessField = "business_id"

// BusinessParam is the default chi path parameter naming the business scope.
const BusinessParam = "businessID"

const maxBodyPeek = 1 << 20

// Extractor pulls an optional business id out of a request.
type Extractor func(r *http.Request) (int64, bool)

// DefaultExtractors tries the JSON body, then the query string, then the path.
func DefaultExtractors() []Extractor {
	return []Extractor{FromBody(BusinessField), FromQuery(BusinessField), FromPath(BusinessParam)}
}

// ResolveBusinessID runs extractors in order; the first present value wins.
func ResolveBusinessID(r *http.Request, extractors []Extractor) (int64, bool) {
	for _, extract := range extractors {
		if id, ok := extract(r); ok {
			return id, true
		}
	}
	return 0, false
}

// FromBody reads field from a JSON object body. The body is restored so the
// wrapped handler can decode it again.
func FromBody(field string) Extractor {
	return func(r *http.Request) (int64, bool) {
		if r.Body == nil || r.Body == http.NoBody {
			return 0, false
		}
		if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
			return 0, false
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
		if err != nil || len(raw) == 0 {
			return 0, false
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			return 0, false
		}
		value, ok := doc[field]
		if !ok {
			return 0, false
		}
		var n json.Number
		if err := json.Unmarshal(value, &n); err == nil {
			return parseID(n.String())
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			return parseID(s)
		}
		return 0, false
	}
}

// FromQuery reads a query-string parameter.
func FromQuery(name string) Extractor {
	return func(r *http.Request) (int64, bool) {
		return parseID(r.URL.Query().Get(name))
	}
}

// FromPath reads a chi URL parameter.
func FromPath(name string) Extractor {
	return func(r *http.Request) (int64, bool) {
		return parseID(chi.URLParam(r, name))
	}
}

func parseID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
