package tee

import (
	"net/http"
	"time"
)

// Recorder is a wrapper around http.ResponseWriter that remembers what was sent.
// It lets handlers and middleware know whether the headers are already committed.
type Recorder struct {
	rw           http.ResponseWriter
	status       int
	bytes        int64
	wroteHeaders bool
	CreatedAt    time.Time
}

// NewRecorder returns a Recorder writing through to w.
// If w already is a Recorder, it is returned as is.
func NewRecorder(w http.ResponseWriter) *Recorder {
	if rec, ok := w.(*Recorder); ok {
		return rec
	}
	return &Recorder{rw: w, CreatedAt: time.Now()}
}

// Implementation of http.ResponseWriter
func (t *Recorder) Header() http.Header {
	return t.rw.Header()
}

// Implementation of http.ResponseWriter
func (t *Recorder) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	t.rw.WriteHeader(statusCode)
}

// Implementation of http.ResponseWriter
func (t *Recorder) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	n, err := t.rw.Write(b)
	t.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (t *Recorder) Unwrap() http.ResponseWriter {
	return t.rw
}

// Committed reports whether the status line and headers were sent.
func (t *Recorder) Committed() bool {
	return t.wroteHeaders
}

// StatusCode returns the status code of the response, 0 if none was sent yet.
func (t *Recorder) StatusCode() int {
	return t.status
}

// BytesWritten returns the number of body bytes written.
func (t *Recorder) BytesWritten() int64 {
	return t.bytes
}
