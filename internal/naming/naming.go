// Package naming builds destination paths for captured images. The
// orchestration engine never constructs paths itself; it hands the
// prefix, session id and format here.
package naming

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/camfleet/camfleet-server/internal/models"
)

var unsafeChars = regexp.MustCompile(`[\\/*?:"<>|,\s]+`)

// Namer resolves capture destination paths under a base directory,
// optionally grouping files into per-format subdirectories
type Namer struct {
	baseDir          string
	organizeByFormat bool
}

// NewNamer creates a Namer rooted at baseDir
func NewNamer(baseDir string, organizeByFormat bool) *Namer {
	return &Namer{baseDir: baseDir, organizeByFormat: organizeByFormat}
}

// CapturePath returns the destination path for one capture:
// <base>[/<format-dir>]/[prefix_]<timestamp>_<session>.<ext>
func (n *Namer) CapturePath(prefix, sessionID string, ts time.Time, format string) string {
	base := ts.Format("20060102_150405") + "_" + Sanitize(sessionID)
	if p := strings.Trim(strings.TrimSpace(prefix), "_"); p != "" {
		base = Sanitize(p) + "_" + base
	}

	dir := n.baseDir
	if n.organizeByFormat {
		dir = filepath.Join(dir, FormatDir(format))
	}
	return filepath.Join(dir, base+FormatExtension(format))
}

// Sanitize replaces filesystem-hostile characters in a name fragment
func Sanitize(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(s, "_"), "_")
}

// FormatExtension maps a camera-reported image format to a file
// extension. Sony bodies report RAW as ARW.
func FormatExtension(format string) string {
	f := strings.ToLower(format)
	switch {
	case strings.Contains(f, "raw"):
		return ".arw"
	case strings.Contains(f, "tiff"):
		return ".tiff"
	default:
		return ".jpg"
	}
}

// FormatDir names the per-format subdirectory
func FormatDir(format string) string {
	f := strings.ToLower(format)
	switch {
	case strings.Contains(f, "raw") && strings.Contains(f, "jpeg"):
		return "raw_jpeg"
	case strings.Contains(f, "raw"):
		return "raw"
	case strings.Contains(f, "tiff"):
		return "tiff"
	default:
		return "jpeg"
	}
}

// WantFormat reports whether a file of the given format should be kept
// under the preference
func WantFormat(pref models.FormatPreference, format string) bool {
	f := strings.ToLower(format)
	isRaw := strings.Contains(f, "raw")
	switch pref {
	case models.FormatPreferRaw:
		return isRaw
	case models.FormatPreferJpeg:
		return !isRaw
	default:
		return true
	}
}
