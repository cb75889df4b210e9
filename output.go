package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ResultWriter appends one delimited record per completed seed URL to the
// results directory, an audit trail independent of the in-memory mapping.
type ResultWriter struct {
	dir string
	mu  sync.Mutex
}

func NewResultWriter(dir string) (*ResultWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create results directory: %w", err)
	}
	return &ResultWriter{dir: dir}, nil
}

// WriteSeedResult writes a single-row CSV: the seed URL followed by its
// emails.
func (w *ResultWriter) WriteSeedResult(seedURL string, emails []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := fmt.Sprintf("emails_%s_%d.csv", safeFileName(seedURL), time.Now().UnixNano())
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	record := append([]string{seedURL}, emails...)
	if err := cw.Write(record); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func safeFileName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
