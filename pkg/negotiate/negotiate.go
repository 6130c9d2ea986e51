package negotiate

import (
	"net/http"
	"strings"
)

// Identity is the encoding token of the unencoded representation.
const Identity = ""

// Inputs are the request properties that take part in resolving a path.
type Inputs struct {
	// Path is the requested path, without the query.
	Path string
	// Validator is the single entity tag presented in If-None-Match,
	// or empty if none or more than one was presented.
	Validator string
	// Encodings lists the acceptable content codings, identity first.
	Encodings []string
}

// Accepts reports whether the given content coding is acceptable.
func (in Inputs) Accepts(encoding string) bool {
	for _, e := range in.Encodings {
		if e == encoding {
			return true
		}
	}
	return false
}

// Parse extracts the negotiation inputs from the request.
// Malformed headers never fail; they degrade to "no validator" and "identity only".
func Parse(r *http.Request) Inputs {
	return Inputs{
		Path:      RequestPath(r),
		Validator: IfNoneMatch(r.Header),
		Encodings: AcceptEncoding(r.Header),
	}
}

// RequestPath returns the decoded path of the request URL.
func RequestPath(r *http.Request) string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// IfNoneMatch returns the effective validator of the request.
// A list with more than one distinct tag cannot be compared against a single
// stored validator, so conditional matching is disabled for it.
func IfNoneMatch(header http.Header) string {
	values := header.Values("If-None-Match")
	if len(values) == 0 {
		return ""
	}
	var tag string
	seen := 0
	for _, item := range strings.Split(strings.Join(values, ","), ",") {
		item = strings.TrimSpace(item)
		if seen > 0 && item == tag {
			continue
		}
		tag = item
		seen++
		if seen > 1 {
			return ""
		}
	}
	return tag
}

// AcceptEncoding returns the deduplicated content codings named in Accept-Encoding,
// always including identity. Quality values are ignored: the server decides the
// preference by representation size.
func AcceptEncoding(header http.Header) []string {
	encodings := []string{Identity}
	seen := map[string]bool{Identity: true}
	for _, hdr := range header.Values("Accept-Encoding") {
		for _, item := range strings.Split(strings.ToLower(hdr), ",") {
			coding, _, _ := strings.Cut(item, ";")
			coding = strings.Join(strings.Fields(coding), "")
			if coding == "identity" {
				coding = Identity
			}
			if seen[coding] {
				continue
			}
			seen[coding] = true
			encodings = append(encodings, coding)
		}
	}
	return encodings
}
