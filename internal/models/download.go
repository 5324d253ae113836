package models

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dzpline/whisper-client/internal/config"
)

// Ensure verifies the model for the given size is present locally and
// returns its path.
func Ensure(size string) (string, error) {
	path, err := Path(size)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("models: %s not found at %s (run with -download-model %s first): %w", size, path, size, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("models: %s at %s is empty, delete it and re-download", size, path)
	}
	return path, nil
}

// Download fetches the model for the given size into the default models
// directory. It shows download progress on stdout and skips models that
// are already present.
func Download(size string) error {
	m, err := Lookup(size)
	if err != nil {
		return err
	}

	modelsDir := config.DefaultModelsDir()
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return fmt.Errorf("creating models dir: %w", err)
	}

	destPath := filepath.Join(modelsDir, m.File)
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Printf("  Model already exists: %s (%.0f MB)\n", destPath, float64(info.Size())/(1024*1024))
		return nil
	}

	fmt.Printf("  Downloading %s from HuggingFace (~%.0f MB)...\n", m.Size, float64(m.Bytes)/(1024*1024))
	fmt.Printf("  URL: %s\n", m.URL)
	fmt.Printf("  Destination: %s\n", destPath)

	return fetch(m.URL, destPath, m.File)
}

// fetch downloads url to destPath through a temp file so a partial
// download never shows up under the final name.
func fetch(url, destPath, label string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("downloading model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	pr := &progressWriter{
		writer: f,
		total:  resp.ContentLength,
		label:  label,
	}

	written, err := io.Copy(pr, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing model file: %w", err)
	}

	fmt.Printf("\n  Downloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving model file: %w", err)
	}

	return nil
}

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Printf("\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Printf("\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}
