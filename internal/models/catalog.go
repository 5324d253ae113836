// Package models resolves and downloads ggml whisper models.
package models

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dzpline/whisper-client/internal/config"
)

// Model is one downloadable ggml whisper model.
type Model struct {
	Size  string // catalog name, e.g. "base.en"
	File  string // local filename
	URL   string
	Bytes int64 // approximate download size
}

const hfBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// catalog lists the supported model sizes, smallest first. The .en
// variants are English-only and slightly more accurate for English.
var catalog = []Model{
	{Size: "tiny", File: "ggml-tiny.bin", Bytes: 75 << 20},
	{Size: "tiny.en", File: "ggml-tiny.en.bin", Bytes: 75 << 20},
	{Size: "base", File: "ggml-base.bin", Bytes: 142 << 20},
	{Size: "base.en", File: "ggml-base.en.bin", Bytes: 142 << 20},
	{Size: "small", File: "ggml-small.bin", Bytes: 466 << 20},
	{Size: "small.en", File: "ggml-small.en.bin", Bytes: 466 << 20},
	{Size: "medium", File: "ggml-medium.bin", Bytes: 1536 << 20},
	{Size: "medium.en", File: "ggml-medium.en.bin", Bytes: 1536 << 20},
	{Size: "large-v3", File: "ggml-large-v3.bin", Bytes: 2950 << 20},
}

// Lookup finds a catalog entry by size name.
func Lookup(size string) (Model, error) {
	for _, m := range catalog {
		if m.Size == size {
			m.URL = hfBase + m.File
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("models: unknown model size %q (supported: %s)", size, strings.Join(Sizes(), ", "))
}

// Sizes returns the supported model size names in catalog order.
func Sizes() []string {
	out := make([]string, len(catalog))
	for i, m := range catalog {
		out[i] = m.Size
	}
	return out
}

// Path returns where the model for the given size lives locally. The
// file may not exist yet.
func Path(size string) (string, error) {
	m, err := Lookup(size)
	if err != nil {
		return "", err
	}
	return filepath.Join(config.DefaultModelsDir(), m.File), nil
}
