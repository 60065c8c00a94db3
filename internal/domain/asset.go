package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// AssetKind enumerates asset types.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
	AssetKindLUT   AssetKind = "lut"
)

// AssetStatus enumerates asset lifecycle states.
type AssetStatus string

const (
	AssetStatusUploaded AssetStatus = "uploaded"
	AssetStatusInUse    AssetStatus = "in_use"
	AssetStatusExpired  AssetStatus = "expired"
)

// Upload limits mirrored by intake validation.
const (
	MaxImageBytes       int64 = 5 << 20
	MaxVideoBytes       int64 = 50 << 20
	MaxVideoDurationSec       = 30.0
	MaxLUTBytes         int64 = 1 << 20
)

// Asset is an uploaded or produced media object with a retention deadline.
type Asset struct {
	ID              string      `json:"id"`
	AccountID       string      `json:"account_id"`
	Kind            AssetKind   `json:"kind"`
	Filename        string      `json:"filename"`
	MIME            string      `json:"mime"`
	SizeBytes       int64       `json:"size_bytes"`
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
	StorageKey      string      `json:"storage_key"`
	Status          AssetStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
}

// Expired reports whether the retention deadline has passed at now.
func (a *Asset) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

var (
	imageExtensions = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
		".gif":  "image/gif",
		".heic": "image/heic",
	}
	videoExtensions = map[string]string{
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".avi":  "video/x-msvideo",
		".webm": "video/webm",
	}
)

// ClassifyFilename returns the asset kind and MIME type implied by a filename.
// ok is false for unsupported extensions.
func ClassifyFilename(name string) (kind AssetKind, mime string, ok bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if m, found := imageExtensions[ext]; found {
		return AssetKindImage, m, true
	}
	if m, found := videoExtensions[ext]; found {
		return AssetKindVideo, m, true
	}
	if ext == ".cube" {
		return AssetKindLUT, "application/x-cube", true
	}
	return "", "", false
}

// ContentTypeFor returns the MIME type for a filename, falling back to octet-stream.
func ContentTypeFor(name string) string {
	if _, mime, ok := ClassifyFilename(name); ok {
		return mime
	}
	return "application/octet-stream"
}

// ExtensionForMIME maps a MIME type to a file extension including the dot.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/avif":
		return ".avif"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/x-msvideo":
		return ".avi"
	default:
		return ".bin"
	}
}
