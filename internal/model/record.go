package model

// RecordStatus is the lifecycle state of a single manifest row.
type RecordStatus string

const (
	// StatusPending means the row has not been attempted yet.
	StatusPending RecordStatus = "pending"
	// StatusSkipped means the row was resolved without inference
	// (pre-existing alt text, duplicate, SVG icon, avatar, too small).
	StatusSkipped RecordStatus = "skipped"
	// StatusRejected means the size classifier refused the image.
	StatusRejected RecordStatus = "rejected"
	// StatusQueued means the row is assigned to a composed batch.
	StatusQueued RecordStatus = "queued"
	// StatusInFlight means the row's batch has been submitted.
	StatusInFlight RecordStatus = "in_flight"
	// StatusDone means alt text was generated and recorded.
	StatusDone RecordStatus = "done"
	// StatusFailed means the row errored (download, scrape, or API).
	StatusFailed RecordStatus = "failed"
)

// Terminal reports whether a record in this status needs no further work.
func (s RecordStatus) Terminal() bool {
	switch s {
	case StatusSkipped, StatusRejected, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// PageContext holds the scraped context shared by all images on a page.
type PageContext struct {
	Title        string `json:"title"`
	H1           string `json:"h1"`
	AdjacentText string `json:"adjacent_text"`
}

// ImageRecord is one manifest row: an image reference on a source page.
type ImageRecord struct {
	Row           int          `json:"row"`
	SourcePage    string       `json:"source_page"`
	ImageURL      string       `json:"image_url"`
	CanonicalKey  string       `json:"canonical_key"`
	DeclaredBytes int64        `json:"declared_bytes,omitempty"`
	DeclaredW     int          `json:"declared_width,omitempty"`
	DeclaredH     int          `json:"declared_height,omitempty"`
	Context       PageContext  `json:"context"`
	Status        RecordStatus `json:"status"`
	AltText       string       `json:"alt_text,omitempty"`
	Message       string       `json:"message,omitempty"`
}
