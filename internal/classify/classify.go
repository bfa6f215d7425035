// Package classify buckets image references by size policy. Checks are
// ordered cheapest-first: declared bytes, then declared dimensions, and only
// when the manifest carries neither does classification defer to a download.
package classify

import (
	"fmt"
	"strings"
)

// Size policy limits. The byte cap matches the vision API's hard limit;
// above the grouped-dimension cap an image is submitted alone.
const (
	MaxFileBytes   = 5 * 1024 * 1024
	GroupedMaxDim  = 2000
	AbsoluteMaxDim = 8000
	MinDim         = 100
)

// Bucket is the size classification of an image reference.
type Bucket int

const (
	// Normal images are grouped into shared batches.
	Normal Bucket = iota
	// OversizedIndividual images are submitted as singleton batches.
	OversizedIndividual
	// Rejected images never reach inference.
	Rejected
	// DeferredDownloadCheck means the manifest carries no usable size
	// metadata; the representative must be downloaded and re-classified.
	DeferredDownloadCheck
)

func (b Bucket) String() string {
	switch b {
	case Normal:
		return "normal"
	case OversizedIndividual:
		return "oversized_individual"
	case Rejected:
		return "rejected"
	case DeferredDownloadCheck:
		return "deferred_download_check"
	default:
		return "unknown"
	}
}

// Result is a bucket plus the user-visible message for rejections.
type Result struct {
	Bucket  Bucket
	Message string
}

// Declared classifies from manifest metadata alone, without any network
// fetch. Pass zero for missing values.
func Declared(bytes int64, width, height int) Result {
	if bytes > MaxFileBytes {
		return Result{
			Bucket:  Rejected,
			Message: fmt.Sprintf("Image too large: %.2fMB file (max 5MB)", float64(bytes)/(1024*1024)),
		}
	}

	if width > 0 && height > 0 {
		return fromDimensions(width, height)
	}

	return Result{Bucket: DeferredDownloadCheck}
}

// Measured re-classifies after a download, applying the same thresholds to
// the measured byte size and dimensions.
func Measured(bytes int64, width, height int) Result {
	if bytes > MaxFileBytes {
		return Result{
			Bucket:  Rejected,
			Message: fmt.Sprintf("Image too large: %.2fMB file (max 5MB)", float64(bytes)/(1024*1024)),
		}
	}
	return fromDimensions(width, height)
}

func fromDimensions(width, height int) Result {
	if width > AbsoluteMaxDim || height > AbsoluteMaxDim {
		return Result{
			Bucket:  Rejected,
			Message: fmt.Sprintf("Image too large: %dx%dpx (max 8000x8000)", width, height),
		}
	}
	if width > GroupedMaxDim || height > GroupedMaxDim {
		return Result{Bucket: OversizedIndividual}
	}
	return Result{Bucket: Normal}
}

// TooSmall returns a skip message for measured icon/thumbnail dimensions,
// or "" when the image is large enough to describe.
func TooSmall(width, height int) string {
	if width > 0 && height > 0 && (width < MinDim || height < MinDim) {
		return fmt.Sprintf("Skipped: Icon/thumbnail (%dx%dpx, minimum 100x100)", width, height)
	}
	return ""
}

// SkipReason returns a skip message for URLs that are never worth
// describing (vector icons, avatar CDNs), or "" to proceed.
func SkipReason(imageURL string) string {
	lower := strings.ToLower(imageURL)
	if strings.HasSuffix(strings.SplitN(lower, "?", 2)[0], ".svg") {
		return "Skipped: SVG icon"
	}
	if strings.Contains(lower, "googleusercontent") {
		return "Skipped: Avatar (googleusercontent)"
	}
	return ""
}
