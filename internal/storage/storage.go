package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

var (
	ErrEmptyOutput    = errors.New("output file is empty")
	ErrAllPathsFailed = errors.New("all output paths failed")
)

// Paths are the candidate output files, tried in order.
type Paths struct {
	Primary  string
	Fallback string
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// OutputPaths names the job output file output_<site>_<keyword>_<timestamp>.json
// inside both directories.
func OutputPaths(primaryDir, fallbackDir, site, keyword string, now time.Time) Paths {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(keyword), "_"), "_")
	if slug == "" {
		slug = "search"
	}
	name := fmt.Sprintf("output_%s_%s_%s.json", site, slug, now.Format("20060102_150405"))

	p := Paths{Primary: filepath.Join(primaryDir, name)}
	if fallbackDir != "" {
		p.Fallback = filepath.Join(fallbackDir, name)
	}
	return p
}

// Persister writes record sets as a JSON array.
type Persister struct {
	fs     afero.Fs
	logger *slog.Logger
}

func NewPersister(fs afero.Fs, logger *slog.Logger) *Persister {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		fs:     fs,
		logger: logger.With("component", "persistence"),
	}
}

// Save writes records to the primary path, falling back to the secondary
// path on any filesystem error. It returns the path written.
func (p *Persister) Save(records []models.ProductRecord, paths Paths) (string, error) {
	if records == nil {
		records = []models.ProductRecord{}
	}
	data, err := encode(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode records: %w", err)
	}

	var errs []error
	for _, path := range []string{paths.Primary, paths.Fallback} {
		if path == "" {
			continue
		}
		if err := p.write(path, data); err != nil {
			p.logger.Warn("failed to write output", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		p.verify(path, len(records))
		p.logger.Info("saved output", "path", path, "records", len(records))
		return path, nil
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: no path configured", ErrAllPathsFailed)
	}
	return "", fmt.Errorf("%w: %w", ErrAllPathsFailed, errors.Join(errs...))
}

// Load reads a record set written by Save.
func (p *Persister) Load(path string) ([]models.ProductRecord, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, err
	}

	var records []models.ProductRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return records, nil
}

func (p *Persister) write(path string, data []byte) error {
	if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temp file first for atomicity
	tmp := path + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := p.fs.Rename(tmp, path); err != nil {
		_ = p.fs.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	info, err := p.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat output: %w", err)
	}
	if info.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}

// verify reads the file back and logs a record count mismatch.
func (p *Persister) verify(path string, want int) {
	got, err := p.Load(path)
	if err != nil {
		p.logger.Error("failed to read back output", "path", path, "error", err)
		return
	}
	if len(got) != want {
		p.logger.Error("output record count mismatch", "path", path, "want", want, "got", len(got))
	}
}

func encode(records []models.ProductRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultDirs returns ~/Desktop and the OS temp directory.
func DefaultDirs() (primary, fallback string) {
	fallback = os.TempDir()
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback, ""
	}
	return filepath.Join(home, "Desktop"), fallback
}
