package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/lecture-quiz/constants"
)

// AllowedExt checks if a file extension is an accepted video container.
func AllowedExt(ext string) bool {
	return constants.IsAllowedExt(ext)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// TitleFromFilename derives a human title from an uploaded file name:
// "week-3_closures.mp4" -> "week 3 closures".
func TitleFromFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
