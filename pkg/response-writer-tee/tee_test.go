package tee

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecorderCapturesStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewRecorder(rr)
	if rec.Committed() {
		t.Fatal("Committed before writing")
	}
	rec.Header().Set("Location", "/new")
	rec.WriteHeader(http.StatusMovedPermanently)
	rec.WriteHeader(http.StatusOK)
	if rec.StatusCode() != http.StatusMovedPermanently || rr.Code != http.StatusMovedPermanently {
		t.Fatalf("Status is %d / %d", rec.StatusCode(), rr.Code)
	}
	if rr.Header().Get("Location") != "/new" {
		t.Fatal("Header not written through")
	}
}

func TestRecorderImplicitOK(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewRecorder(rr)
	rec.Write([]byte("Hello world"))
	if !rec.Committed() || rec.StatusCode() != http.StatusOK || rec.BytesWritten() != 11 {
		t.Fatalf("Recorder is %+v", rec)
	}
	if NewRecorder(rec) != rec {
		t.Fatal("Recorder wrapped twice")
	}
}
