// Package manifest reads and writes the row-oriented image manifest: a CSV
// export with one row per page×image pair. The manifest doubles as durable
// output — alt text is written back into it incrementally, which is what
// makes a half-finished run resumable from the file alone.
package manifest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Required input columns.
const (
	ColSource      = "Source"
	ColDestination = "Destination"
)

// Managed columns, appended on load when absent.
const (
	ColTitle    = "title tag"
	ColH1       = "H1 tag"
	ColAdjacent = "adjacent text"
	ColMessage  = "message"
	ColAltText  = "ALT text"
)

var managedColumns = []string{ColTitle, ColH1, ColAdjacent, ColMessage, ColAltText}

// Optional size metadata columns, matched case-insensitively.
var (
	sizeColumns   = []string{"size (bytes)", "size bytes", "bytes"}
	widthColumns  = []string{"width"}
	heightColumns = []string{"height"}
)

// Manifest is a loaded CSV manifest with mutable managed columns.
type Manifest struct {
	Path   string
	header []string
	colIdx map[string]int
	rows   [][]string
}

// Load reads a manifest CSV, validates required columns, and appends any
// missing managed columns.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "manifest: read csv")
	}
	if len(records) == 0 {
		return nil, eris.New("manifest: csv is empty")
	}

	m := &Manifest{
		Path:   path,
		header: records[0],
		rows:   records[1:],
	}
	m.reindex()

	for _, col := range []string{ColSource, ColDestination} {
		if _, ok := m.colIdx[col]; !ok {
			return nil, eris.Errorf("manifest: missing required column %q", col)
		}
	}

	for _, col := range managedColumns {
		if _, ok := m.colIdx[col]; !ok {
			m.header = append(m.header, col)
		}
	}
	m.reindex()

	// Pad short rows out to the full header width.
	for i, row := range m.rows {
		for len(row) < len(m.header) {
			row = append(row, "")
		}
		m.rows[i] = row
	}

	return m, nil
}

func (m *Manifest) reindex() {
	m.colIdx = make(map[string]int, len(m.header))
	for i, col := range m.header {
		m.colIdx[strings.TrimSpace(col)] = i
	}
}

// Len returns the number of data rows.
func (m *Manifest) Len() int {
	return len(m.rows)
}

// Get returns the value of the named column in the given row.
func (m *Manifest) Get(row int, col string) string {
	if row < 0 || row >= len(m.rows) {
		return ""
	}
	idx, ok := m.colIdx[col]
	if !ok || idx >= len(m.rows[row]) {
		return ""
	}
	return m.rows[row][idx]
}

// Set writes a value into a managed or existing column of the given row.
func (m *Manifest) Set(row int, col, val string) {
	if row < 0 || row >= len(m.rows) {
		return
	}
	idx, ok := m.colIdx[col]
	if !ok {
		return
	}
	m.rows[row][idx] = val
}

// DeclaredSize returns optional size metadata for a row; zero values mean
// the column is absent or unparsable.
func (m *Manifest) DeclaredSize(row int) (bytes int64, width, height int) {
	bytes, _ = strconv.ParseInt(m.findOptional(row, sizeColumns), 10, 64)
	width, _ = strconv.Atoi(m.findOptional(row, widthColumns))
	height, _ = strconv.Atoi(m.findOptional(row, heightColumns))
	return bytes, width, height
}

func (m *Manifest) findOptional(row int, names []string) string {
	for col, idx := range m.colIdx {
		for _, name := range names {
			if strings.EqualFold(strings.TrimSpace(col), name) {
				if row >= 0 && row < len(m.rows) && idx < len(m.rows[row]) {
					return strings.TrimSpace(m.rows[row][idx])
				}
			}
		}
	}
	return ""
}

// ClearAltText blanks the ALT text column in every row (restart mode).
func (m *Manifest) ClearAltText() {
	for i := range m.rows {
		m.Set(i, ColAltText, "")
	}
}

// Save writes the manifest back to its path atomically: the new content is
// flushed to a temp file first and renamed over the original, so a crash
// mid-write never corrupts previously committed rows.
func (m *Manifest) Save() error {
	return m.writeTo(m.Path)
}

func (m *Manifest) writeTo(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.csv")
	if err != nil {
		return eris.Wrap(err, "manifest: create temp file")
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(m.header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "manifest: write header")
	}
	if err := w.WriteAll(m.rows); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "manifest: write rows")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "manifest: flush")
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "manifest: sync")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return eris.Wrap(err, "manifest: close temp")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return eris.Wrap(err, "manifest: rename into place")
	}
	return nil
}

// IsValidAltText reports whether a value is real generated alt text rather
// than a skip or error marker.
func IsValidAltText(altText string) bool {
	if strings.TrimSpace(altText) == "" {
		return false
	}
	lower := strings.ToLower(altText)
	for _, pattern := range []string{"skip", "too small", "download error", "error:", "icon", "thumbnail", "avatar"} {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}
