package constants

import "strings"

// MaxUploadBytesDefault caps a single lecture upload (100 MB).
const MaxUploadBytesDefault int64 = 100 * 1024 * 1024

// VideoMimeMP4 is the only container accepted by the upload layer.
const VideoMimeMP4 = "video/mp4"

// AllowedExtensions holds the default allowed file extensions for video ingestion.
var AllowedExtensions = map[string]struct{}{
	"mp4": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without dot) is an accepted video extension.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}
