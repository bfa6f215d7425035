package manifest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AddsManagedColumns(t *testing.T) {
	path := writeManifest(t, "site.csv",
		"Source,Destination\nhttps://a.com/page,https://a.com/img.jpg\n")

	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, "https://a.com/page", m.Get(0, ColSource))
	assert.Equal(t, "https://a.com/img.jpg", m.Get(0, ColDestination))
	assert.Empty(t, m.Get(0, ColAltText))

	m.Set(0, ColAltText, "a red barn")
	assert.Equal(t, "a red barn", m.Get(0, ColAltText))
}

func TestLoad_MissingRequiredColumn(t *testing.T) {
	path := writeManifest(t, "bad.csv", "Source,URL\nx,y\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Destination")
}

func TestLoad_PreservesExistingAltText(t *testing.T) {
	path := writeManifest(t, "resume.csv",
		"Source,Destination,ALT text\np1,i1.jpg,existing text\np2,i2.jpg,\n")

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "existing text", m.Get(0, ColAltText))
	assert.Empty(t, m.Get(1, ColAltText))
}

func TestDeclaredSize(t *testing.T) {
	path := writeManifest(t, "sizes.csv",
		"Source,Destination,Size (Bytes),Width,Height\np,i.jpg,123456,800,600\np,j.jpg,,,\n")

	m, err := Load(path)
	require.NoError(t, err)

	bytes, w, h := m.DeclaredSize(0)
	assert.Equal(t, int64(123456), bytes)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)

	bytes, w, h = m.DeclaredSize(1)
	assert.Zero(t, bytes)
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestSaveAndReload(t *testing.T) {
	path := writeManifest(t, "rt.csv",
		"Source,Destination\np1,i1.jpg\np2,i2.jpg\n")

	m, err := Load(path)
	require.NoError(t, err)
	m.Set(1, ColAltText, "generated, with comma")
	m.Set(1, ColTitle, "Page Two")
	require.NoError(t, m.Save())

	m2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "generated, with comma", m2.Get(1, ColAltText))
	assert.Equal(t, "Page Two", m2.Get(1, ColTitle))
	assert.Empty(t, m2.Get(0, ColAltText))
}

func TestClearAltText(t *testing.T) {
	path := writeManifest(t, "clear.csv",
		"Source,Destination,ALT text\np1,i1.jpg,old one\np2,i2.jpg,old two\n")

	m, err := Load(path)
	require.NoError(t, err)
	m.ClearAltText()
	assert.Empty(t, m.Get(0, ColAltText))
	assert.Empty(t, m.Get(1, ColAltText))
}

func TestIsValidAltText(t *testing.T) {
	assert.True(t, IsValidAltText("A farmer standing in a cornfield"))
	assert.False(t, IsValidAltText(""))
	assert.False(t, IsValidAltText("   "))
	assert.False(t, IsValidAltText("Skipped: SVG icon"))
	assert.False(t, IsValidAltText("Image too small"))
	assert.False(t, IsValidAltText("Download error: timeout"))
	assert.False(t, IsValidAltText("Error: API failure"))
	assert.False(t, IsValidAltText("Skipped: Avatar (googleusercontent)"))
}

func TestWriteOutputs(t *testing.T) {
	path := writeManifest(t, "iowa.csv",
		"Source,Destination,ALT text\n"+
			"p1,https://a.com/barn.jpg,A red barn\n"+
			"p2,https://a.com/barn.jpg,A red barn\n"+ // duplicate URL
			"p3,https://a.com/logo.svg,Skipped: SVG icon\n"+
			"p4,https://a.com/field.jpg?v=2,Rows of corn\n")

	m, err := Load(path)
	require.NoError(t, err)

	outDir := t.TempDir()
	out, err := m.WriteOutputs(outDir)
	require.NoError(t, err)

	assert.FileExists(t, out.OriginalUpdated)
	assert.Equal(t, filepath.Join(outDir, "iowa-original-updated.csv"), out.OriginalUpdated)

	simplified := readCSV(t, out.Simplified)
	require.Len(t, simplified, 3) // header + 2 valid unique rows
	assert.Equal(t, []string{"Image URL", "ALT Text"}, simplified[0])
	assert.Equal(t, []string{"https://a.com/barn.jpg", "A red barn"}, simplified[1])
	assert.Equal(t, []string{"https://a.com/field.jpg?v=2", "Rows of corn"}, simplified[2])

	filenames := readCSV(t, out.FilenamesOnly)
	require.Len(t, filenames, 3)
	assert.Equal(t, []string{"barn.jpg", "A red barn"}, filenames[1])
	assert.Equal(t, []string{"field.jpg", "Rows of corn"}, filenames[2])
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
