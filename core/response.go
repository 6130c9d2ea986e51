package core

import (
	"net/http"
	"strconv"
)

// BodyKind tells the emitter where the response body comes from.
type BodyKind int

const (
	BodyNone BodyKind = iota
	// BodyInline bytes are read from the routing table.
	BodyInline
	// BodyExternal bytes are streamed from the blob store.
	BodyExternal
)

// BodyInstruction describes the body to emit after the headers.
type BodyInstruction struct {
	Kind     BodyKind
	Path     string
	Encoding string
	Location string
	Length   int64
}

// Response is the status, headers and body instruction built for a resolution.
type Response struct {
	Status int
	Header http.Header
	Body   BodyInstruction
}

// Build turns a resolution into a response. It has no side effects.
func Build(res Resolution) Response {
	rsp := Response{Header: make(http.Header)}
	if cc := res.Entry.Cache.CacheControl(); cc != "" {
		rsp.Header.Set("Cache-Control", cc)
	}
	res.Entry.Disposition.respond(res, &rsp)
	return rsp
}

func (s Serve) respond(res Resolution, rsp *Response) {
	if res.Entry.Cache != CacheNone {
		rsp.Header.Set("Vary", "Accept-Encoding")
		// the sentinel's tag is never exposed, so a 404 is never revalidated into a 304
		if res.Rank == RankRequested && res.Variant != nil && res.Variant.Validator != "" {
			rsp.Header.Set("ETag", res.Variant.Validator)
		}
	}
	if res.NotModified {
		rsp.Status = http.StatusNotModified
		return
	}
	rsp.Status = http.StatusOK
	if res.Rank == RankFallback {
		rsp.Status = http.StatusNotFound
	}
	if s.ContentType != "" {
		rsp.Header.Set("Content-Type", s.ContentType)
	} else {
		// untyped content is always empty; keep net/http from sniffing a type
		rsp.Header["Content-Type"] = nil
	}
	var length int64
	if v := res.Variant; v != nil {
		if v.Encoding != "" {
			rsp.Header.Set("Content-Encoding", v.Encoding)
		}
		length = v.Length
		rsp.Body = BodyInstruction{
			Kind:     BodyInline,
			Path:     res.Entry.Path,
			Encoding: v.Encoding,
			Location: v.Location,
			Length:   v.Length,
		}
		if v.Storage == StorageExternal {
			rsp.Body.Kind = BodyExternal
		}
	}
	rsp.Header.Set("Content-Length", strconv.FormatInt(length, 10))
}

func (r Redirect) respond(res Resolution, rsp *Response) {
	rsp.Status = http.StatusFound
	if r.Durability == Permanent {
		rsp.Status = http.StatusMovedPermanently
	}
	rsp.Header.Set("Location", r.Target)
}

func (Gone) respond(res Resolution, rsp *Response) {
	rsp.Status = http.StatusGone
}

// Outcome names the kind of response, for logs and metrics.
func (rsp Response) Outcome() string {
	switch rsp.Status {
	case http.StatusOK:
		return "serve"
	case http.StatusNotModified:
		return "not-modified"
	case http.StatusNotFound:
		return "not-found"
	case http.StatusMovedPermanently, http.StatusFound:
		return "redirect"
	case http.StatusGone:
		return "gone"
	}
	return "error"
}
