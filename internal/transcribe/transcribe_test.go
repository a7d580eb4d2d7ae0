package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMediaFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lecture.mp3")
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart form: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q, want verbose_json", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}

		resp := transcriptionResponse{Segments: []segmentEntry{
			{Start: 0, End: 4.2, Text: " Welcome to the lecture."},
			{Start: 4.2, End: 9.8, Text: " Today we cover retrieval."},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL, 30*time.Second)
	segments, err := c.Transcribe(context.Background(), writeMediaFixture(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	if segments[0].Text != "Welcome to the lecture." {
		t.Errorf("segment text not trimmed: %q", segments[0].Text)
	}
	if segments[1].Start != 4.2 || segments[1].End != 9.8 {
		t.Errorf("segment range = [%v, %v], want [4.2, 9.8]", segments[1].Start, segments[1].End)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported codec", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(srv.URL, 30*time.Second)
	_, err := c.Transcribe(context.Background(), writeMediaFixture(t))
	if err == nil {
		t.Fatal("expected error on server failure")
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	c := New("http://localhost:0", 30*time.Second)
	_, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	if err == nil {
		t.Fatal("expected error for missing media file")
	}
}
