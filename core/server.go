package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	blobstore "github.com/ericselin/tableserve/pkg/blob-store"
	"github.com/ericselin/tableserve/pkg/negotiate"
	tee "github.com/ericselin/tableserve/pkg/response-writer-tee"
	servertiming "github.com/ericselin/tableserve/pkg/server-timing"
	"github.com/ericselin/tableserve/telemetry"
)

type Config struct {
	// Routing table to resolve requests against.
	Routes RouteProvider
	// Storage for externally stored representations.
	Blobs blobstore.Store
	// Path of the not-found resource. DefaultSentinel if empty.
	Sentinel string
	// Metrics sink. Optional.
	Telemetry *telemetry.Telemetry
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Server answers requests from the routing table.
// It keeps no state between requests.
type Server struct {
	routes    RouteProvider
	blobs     blobstore.Store
	sentinel  string
	telemetry *telemetry.Telemetry
	log       zerolog.Logger
}

func CreateServer(config Config) *Server {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	sentinel := config.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return &Server{
		routes:    config.Routes,
		blobs:     config.Blobs,
		sentinel:  sentinel,
		telemetry: config.Telemetry,
		log:       logger.With().Str("component", "server").Logger(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := tee.NewRecorder(w)
	defer s.recover(rec, r)
	s.handle(rec, r)
}

// recover turns a panic into a 500, or aborts the connection if the headers are gone.
func (s *Server) recover(w *tee.Recorder, r *http.Request) {
	err := recover()
	if err == nil {
		return
	}
	if err == http.ErrAbortHandler {
		panic(err)
	}
	s.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("path", r.URL.Path).Msg("Panic in handler")
	if w.Committed() {
		panic(http.ErrAbortHandler)
	}
	s.fail(w, r, fmt.Errorf("panic: %v", err))
}

func (s *Server) handle(w *tee.Recorder, r *http.Request) {
	ctx := r.Context()
	in := negotiate.Parse(r)
	log := s.log.With().
		Str("reqId", middleware.GetReqID(ctx)).
		Str("path", in.Path).
		Logger()
	log.Trace().Str("validator", in.Validator).Strs("encodings", in.Encodings).Msg("Incoming request")

	start := time.Now()
	snap, err := s.routes.Open(ctx)
	if err != nil {
		s.lookupDone(w, r, start, err)
		s.fail(w, r, err)
		return
	}
	release := s.releaser(snap)
	defer release()

	paths := []string{in.Path}
	if in.Path != s.sentinel {
		paths = append(paths, s.sentinel)
	}
	entries, err := snap.Entries(ctx, paths...)
	s.lookupDone(w, r, start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := Resolve(entries, in, s.sentinel)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rsp := Build(res)
	log.Trace().
		Str("resolved", res.Entry.Path).
		Str("encoding", res.encoding()).
		Int("status", rsp.Status).
		Msg("Resolved")

	if err := s.send(ctx, w, r, snap, release, rsp); err != nil {
		s.fail(w, r, err)
		return
	}
	s.telemetry.RecordResponse(ctx, rsp.Status, rsp.Outcome())
}

func (s *Server) lookupDone(w http.ResponseWriter, r *http.Request, start time.Time, err error) {
	m := servertiming.Since("query", start)
	w.Header().Set(servertiming.HeaderName, m.String())
	s.telemetry.RecordLookup(r.Context(), m.Duration, err != nil)
}

// releaser returns a func closing snap once, however often it is called.
func (s *Server) releaser(snap Snapshot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := snap.Close(); err != nil {
				s.log.Warn().Err(err).Msg("Could not close routing snapshot")
			}
		})
	}
}

// send writes the response. Body sources are opened before the headers are committed,
// so that a missing body still yields a clean 500. The snapshot is released before
// the first byte is written.
func (s *Server) send(ctx context.Context, w *tee.Recorder, r *http.Request, snap Snapshot, release func(), rsp Response) error {
	var body io.Reader
	if r.Method != http.MethodHead {
		switch rsp.Body.Kind {
		case BodyInline:
			payload, err := snap.Payload(ctx, rsp.Body.Path, rsp.Body.Encoding)
			if err != nil {
				return err
			}
			if int64(len(payload)) != rsp.Body.Length {
				return corrupt("%s: %q payload is %d bytes, length says %d",
					rsp.Body.Path, rsp.Body.Encoding, len(payload), rsp.Body.Length)
			}
			body = bytes.NewReader(payload)
		case BodyExternal:
			if s.blobs == nil {
				return fmt.Errorf("%s: no blob store for external variant", rsp.Body.Path)
			}
			rc, err := s.blobs.Open(ctx, rsp.Body.Location)
			if err != nil {
				return err
			}
			defer rc.Close()
			body = rc
		}
	}

	release()
	copyHeader(w.Header(), rsp.Header)
	w.WriteHeader(rsp.Status)
	if body == nil {
		return nil
	}
	n, err := io.Copy(w, body)
	if err != nil {
		// headers are committed, abort the connection
		s.log.Error().Err(err).Str("path", rsp.Body.Path).Int64("written", n).Msg("Could not write body to client")
		panic(http.ErrAbortHandler)
	}
	s.log.Trace().Msgf("Wrote body (%d bytes)", n)
	return nil
}

func (s *Server) fail(w *tee.Recorder, r *http.Request, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("Could not serve request")
	s.telemetry.RecordResponse(r.Context(), http.StatusInternalServerError, "error")
	if w.Committed() {
		panic(http.ErrAbortHandler)
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// copyHeader copies src into dst. Nil values are kept: they suppress default headers.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if vv == nil {
			dst[k] = nil
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
