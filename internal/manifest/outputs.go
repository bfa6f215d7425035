package manifest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Outputs are the files produced at run end for one manifest.
type Outputs struct {
	OriginalUpdated string
	Simplified      string
	FilenamesOnly   string
}

// WriteOutputs produces the three result files in outputDir:
// the full updated manifest, a simplified URL→alt-text file containing only
// rows with valid alt text (deduplicated by image URL), and a filename-only
// variant of the simplified file.
func (m *Manifest) WriteOutputs(outputDir string) (*Outputs, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "manifest: create output dir")
	}

	stem := strings.TrimSuffix(filepath.Base(m.Path), filepath.Ext(m.Path))
	out := &Outputs{
		OriginalUpdated: filepath.Join(outputDir, stem+"-original-updated.csv"),
		Simplified:      filepath.Join(outputDir, stem+"-simplified.csv"),
		FilenamesOnly:   filepath.Join(outputDir, stem+"-filenames-only.csv"),
	}

	if err := m.writeTo(out.OriginalUpdated); err != nil {
		return nil, err
	}

	type pair struct{ url, alt string }
	var pairs []pair
	seen := make(map[string]bool)
	for i := range m.rows {
		imageURL := m.Get(i, ColDestination)
		altText := m.Get(i, ColAltText)
		if !IsValidAltText(altText) || seen[imageURL] {
			continue
		}
		seen[imageURL] = true
		pairs = append(pairs, pair{url: imageURL, alt: altText})
	}

	simplified := [][]string{{"Image URL", "ALT Text"}}
	filenames := [][]string{{"Image Filename", "ALT Text"}}
	for _, p := range pairs {
		simplified = append(simplified, []string{p.url, p.alt})
		filenames = append(filenames, []string{urlFilename(p.url), p.alt})
	}

	if err := writeCSV(out.Simplified, simplified); err != nil {
		return nil, err
	}
	if err := writeCSV(out.FilenamesOnly, filenames); err != nil {
		return nil, err
	}
	return out, nil
}

// urlFilename is the last path segment with any query string removed.
func urlFilename(imageURL string) string {
	file := imageURL
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	return strings.SplitN(file, "?", 2)[0]
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "manifest: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return eris.Wrapf(err, "manifest: write %s", path)
	}
	w.Flush()
	return eris.Wrapf(w.Error(), "manifest: flush %s", path)
}
