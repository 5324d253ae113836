package models

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	m, err := Lookup("base.en")
	if err != nil {
		t.Fatalf("Lookup(base.en) error = %v", err)
	}
	if m.File != "ggml-base.en.bin" {
		t.Errorf("File = %q, want ggml-base.en.bin", m.File)
	}
	if !strings.HasPrefix(m.URL, "https://huggingface.co/ggerganov/whisper.cpp/") {
		t.Errorf("URL = %q, want huggingface whisper.cpp URL", m.URL)
	}
	if m.Bytes <= 0 {
		t.Errorf("Bytes = %d, want > 0", m.Bytes)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("humongous")
	if err == nil {
		t.Fatal("Lookup(humongous) should return error")
	}
	if !strings.Contains(err.Error(), "base.en") {
		t.Errorf("error = %v, want the supported sizes listed", err)
	}
}

func TestSizes(t *testing.T) {
	sizes := Sizes()
	if len(sizes) != 9 {
		t.Fatalf("got %d sizes, want 9", len(sizes))
	}
	if sizes[0] != "tiny" {
		t.Errorf("sizes[0] = %q, want tiny", sizes[0])
	}
	if sizes[len(sizes)-1] != "large-v3" {
		t.Errorf("last size = %q, want large-v3", sizes[len(sizes)-1])
	}
}

func TestPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path, err := Path("tiny")
	if err != nil {
		t.Fatalf("Path(tiny) error = %v", err)
	}
	if filepath.Base(path) != "ggml-tiny.bin" {
		t.Errorf("Path = %q, want ggml-tiny.bin basename", path)
	}
	if !strings.Contains(path, "whisper-client") {
		t.Errorf("Path = %q, want the whisper-client data dir", path)
	}
}

func TestEnsureMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := Ensure("tiny")
	if err == nil {
		t.Fatal("Ensure with no downloaded model should return error")
	}
	if !strings.Contains(err.Error(), "-download-model") {
		t.Errorf("error = %v, want download hint", err)
	}
}

func TestEnsurePresent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := Path("tiny")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Ensure("tiny")
	if err != nil {
		t.Fatalf("Ensure(tiny) error = %v", err)
	}
	if got != path {
		t.Errorf("Ensure = %q, want %q", got, path)
	}
}

func TestDownloadSkipsExisting(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := Path("tiny")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}

	// No server involved: an existing non-empty file short-circuits.
	if err := Download("tiny"); err != nil {
		t.Fatalf("Download over existing model error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ggml" {
		t.Errorf("existing model overwritten, content = %q", got)
	}
}

func TestFetch(t *testing.T) {
	payload := strings.Repeat("m", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "ggml-test.bin")
	if err := fetch(srv.URL, dest, "ggml-test.bin"); err != nil {
		t.Fatalf("fetch() error = %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(got) != payload {
		t.Errorf("downloaded %d bytes, want %d", len(got), len(payload))
	}

	// The temp file must be gone after the rename.
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file still present after download")
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "ggml-test.bin")
	err := fetch(srv.URL, dest, "ggml-test.bin")
	if err == nil {
		t.Fatal("fetch against 404 should return error")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Errorf("destination file created despite failed download")
	}
}

func TestProgressWriter(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	pw := &progressWriter{
		writer: f,
		total:  100,
		label:  "test",
	}

	data := make([]byte, 50)
	n, err := pw.Write(data)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 50 {
		t.Errorf("Write() n = %d, want 50", n)
	}
	if pw.written != 50 {
		t.Errorf("written = %d, want 50", pw.written)
	}
}
