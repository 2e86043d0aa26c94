package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"TrustGate/internal/domain/models"
)

const SummaryFile = "summary.json"

// SummaryWriter writes summary.json atomically through a temp file and rename.
type SummaryWriter struct {
	dir string
}

func NewSummaryWriter(dir string) *SummaryWriter {
	return &SummaryWriter{dir: dir}
}

// Path is the summary file location.
func (w *SummaryWriter) Path() string {
	return filepath.Join(w.dir, SummaryFile)
}

func (w *SummaryWriter) Write(s models.RunSummary) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create summary dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, SummaryFile+".*")
	if err != nil {
		return fmt.Errorf("create summary temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close summary: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.Path()); err != nil {
		return fmt.Errorf("rename summary: %w", err)
	}
	return nil
}
