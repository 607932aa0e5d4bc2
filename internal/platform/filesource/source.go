// ABOUTME: Platform adapter reading a health export directory written by a phone export app.
// ABOUTME: Each metric is an append-only JSON file; cursors are generation plus offset.
package filesource

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/platform"
)

const permissionsFile = "permissions.json"

//go:embed export.schema.json
var exportSchema []byte

// Ensure Source implements the platform interfaces.
var (
	_ platform.Querier          = (*Source)(nil)
	_ platform.PermissionSource = (*Source)(nil)
)

// ErrInvalidExport is returned for export files that fail schema validation.
var ErrInvalidExport = errors.New("invalid export file")

// File is the on-disk layout of one metric export.
type File struct {
	// Generation changes whenever the exporter rewrites or purges the file.
	Generation string   `json:"generation"`
	Samples    []Sample `json:"samples"`
}

// Sample is one exported record.
type Sample struct {
	Time    time.Time `json:"time"`
	Value   *float64  `json:"value,omitempty"`
	Min     *float64  `json:"min,omitempty"`
	Avg     *float64  `json:"avg,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Origins []string  `json:"origins,omitempty"`
}

type permissions struct {
	Granted []models.MetricType `json:"granted"`
}

// Source reads one export directory.
type Source struct {
	dir    string
	schema *jsonschema.Schema
	mu     sync.Mutex
}

// New creates a source for dir. The directory need not exist yet.
func New(dir string) (*Source, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Source{dir: dir, schema: schema}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(exportSchema))
	if err != nil {
		return nil, fmt.Errorf("parse export schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("export.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add export schema: %w", err)
	}
	schema, err := c.Compile("export.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile export schema: %w", err)
	}
	return schema, nil
}

// Dir returns the export directory.
func (s *Source) Dir() string {
	return s.dir
}

// Available fails when the export directory is missing.
func (s *Source) Available(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("export directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("export path %s is not a directory", s.dir)
	}
	return nil
}

// GrantedMetrics reads permissions.json. A missing file grants nothing.
func (s *Source) GrantedMetrics(_ context.Context) ([]models.MetricType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.readPermissions()
	if err != nil {
		return nil, err
	}
	return p.Granted, nil
}

// RequestGrant adds metrics to permissions.json.
func (s *Source) RequestGrant(_ context.Context, metrics []models.MetricType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.readPermissions()
	if err != nil {
		return err
	}
	p.Granted = models.SortMetrics(append(p.Granted, metrics...))
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, permissionsFile), data, 0600)
}

func (s *Source) readPermissions() (permissions, error) {
	var p permissions
	data, err := os.ReadFile(filepath.Join(s.dir, permissionsFile))
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read permissions: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse permissions: %w", err)
	}
	return p, nil
}

// QueryIncremental returns the samples appended since cursor that fall in rng.
// Samples are consumed in file order.
func (s *Source) QueryIncremental(_ context.Context, metric models.MetricType, cursor *models.Cursor, rng models.EffectiveRange) (platform.QueryResult, error) {
	f, err := s.ReadFile(metric)
	if errors.Is(err, os.ErrNotExist) {
		return platform.QueryResult{CursorValid: cursor == nil}, nil
	}
	if err != nil {
		return platform.QueryResult{}, err
	}

	offset := 0
	if cursor != nil {
		gen, off, ok := parseToken(cursor.Token)
		if !ok || gen != f.Generation || off > len(f.Samples) {
			return platform.QueryResult{CursorValid: false}, nil
		}
		offset = off
	}

	// The cursor advances over returned samples and samples older than the
	// range. It stops at the first sample past rng.End so a later query with
	// a wider range still sees it.
	var samples []models.RawSample
	next := offset
	for _, es := range f.Samples[offset:] {
		if es.Time.After(rng.End) {
			break
		}
		next++
		if es.Time.Before(rng.Start) {
			continue
		}
		samples = append(samples, toRaw(metric, es))
	}
	return platform.QueryResult{
		Samples:     samples,
		Next:        models.Cursor{Token: FormatToken(f.Generation, next)},
		CursorValid: true,
	}, nil
}

// ReadFile loads and validates the export file for metric.
func (s *Source) ReadFile(metric models.MetricType) (*File, error) {
	data, err := os.ReadFile(s.MetricPath(metric))
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidExport, metric, err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidExport, metric, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidExport, metric, err)
	}
	return &f, nil
}

// MetricPath returns the export file path for metric.
func (s *Source) MetricPath(metric models.MetricType) string {
	return filepath.Join(s.dir, string(metric)+".json")
}

// MetricForPath maps an export file path back to its metric.
func MetricForPath(path string) (models.MetricType, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	if name == filepath.Base(path) || !models.IsValidMetricType(name) {
		return "", false
	}
	return models.MetricType(name), true
}

// WriteFile atomically replaces the export file for metric.
func WriteFile(dir string, metric models.MetricType, f File) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	if f.Samples == nil {
		f.Samples = []Sample{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, string(metric)+".json"), data, 0600)
}

// FormatToken renders a cursor token.
func FormatToken(generation string, offset int) string {
	return generation + ":" + strconv.Itoa(offset)
}

func parseToken(token string) (string, int, bool) {
	i := strings.LastIndex(token, ":")
	if i <= 0 {
		return "", 0, false
	}
	off, err := strconv.Atoi(token[i+1:])
	if err != nil || off < 0 {
		return "", 0, false
	}
	return token[:i], off, true
}

func toRaw(metric models.MetricType, es Sample) models.RawSample {
	raw := models.RawSample{Metric: metric, Time: es.Time, Origins: es.Origins}
	if es.Value != nil {
		raw.Value = *es.Value
	}
	if es.Min != nil && es.Avg != nil && es.Max != nil {
		raw.Stats = &models.Stats{Min: *es.Min, Avg: *es.Avg, Max: *es.Max}
		if es.Value == nil {
			raw.Value = *es.Avg
		}
	}
	return raw
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
