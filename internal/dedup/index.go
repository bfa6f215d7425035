// Package dedup assigns canonical keys to image references and tracks which
// manifest rows share an underlying image, so each unique image is submitted
// for inference exactly once and the result fans out to every row.
package dedup

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// WordPress-style size variants of the same upload: image-300x300.jpg and
// image-scaled.jpg both collapse to image.jpg. A trailing -1, -2 counter is
// part of the identity and survives stripping.
var (
	sizeSuffixRe   = regexp.MustCompile(`-\d+x\d+(\.[a-zA-Z]+)$`)
	scaledSuffixRe = regexp.MustCompile(`-scaled(\.[a-zA-Z]+)$`)
)

// CanonicalKey normalizes an image URL into a stable dedup identity:
// lowercased scheme and host, fragment stripped. Malformed URLs fall back
// to the trimmed raw string, so dedup never fails — the record just becomes
// its own representative.
func CanonicalKey(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Scheme == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// variantKey reduces a canonical key to host + directory + base filename
// with size suffixes stripped and the query dropped. Two size variants of
// one upload share a variant key. Returns "" for non-URL keys.
func variantKey(canonicalKey string) string {
	u, err := url.Parse(canonicalKey)
	if err != nil || u.Host == "" {
		return ""
	}

	file := path.Base(u.Path)
	file = sizeSuffixRe.ReplaceAllString(file, "$1")
	file = scaledSuffixRe.ReplaceAllString(file, "$1")

	return u.Host + path.Join(path.Dir(u.Path), file)
}

type group struct {
	key    string
	repRow int
	rows   []int
}

// Index maps canonical keys to their row groups. It is sized to the
// manifest and rebuilt on every run; nothing here is persisted.
type Index struct {
	groups   map[string]*group
	variants map[string]*group
	order    []*group
}

// NewIndex creates an empty dedup index.
func NewIndex() *Index {
	return &Index{
		groups:   make(map[string]*group),
		variants: make(map[string]*group),
	}
}

// Register adds a row's image reference. It returns the group's canonical
// key and whether this row is the representative that will undergo
// inference. Rows registered after the first join the existing group.
func (ix *Index) Register(row int, imageURL string) (key string, isRepresentative bool) {
	ck := CanonicalKey(imageURL)

	if g, ok := ix.groups[ck]; ok {
		g.rows = append(g.rows, row)
		return g.key, false
	}

	vk := variantKey(ck)
	if vk != "" {
		if g, ok := ix.variants[vk]; ok {
			// Size variant of an already-registered image.
			ix.groups[ck] = g
			g.rows = append(g.rows, row)
			return g.key, false
		}
	}

	g := &group{key: ck, repRow: row, rows: []int{row}}
	ix.groups[ck] = g
	if vk != "" {
		ix.variants[vk] = g
	}
	ix.order = append(ix.order, g)
	return ck, true
}

// Rows returns every manifest row sharing the image identified by key.
// The key may be any member's canonical key, not only the representative's.
func (ix *Index) Rows(key string) []int {
	if g, ok := ix.groups[key]; ok {
		return g.rows
	}
	return nil
}

// RepresentativeRow returns the row that undergoes inference for key, or -1.
func (ix *Index) RepresentativeRow(key string) int {
	if g, ok := ix.groups[key]; ok {
		return g.repRow
	}
	return -1
}

// Unique returns the number of distinct images registered.
func (ix *Index) Unique() int {
	return len(ix.order)
}
