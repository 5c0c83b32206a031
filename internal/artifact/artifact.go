// Package artifact names and places the files a browser session leaves
// behind: traces, screenshots and videos.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Kind is an artifact category. Its value is also the directory name.
type Kind string

const (
	Traces      Kind = "traces"
	Screenshots Kind = "screenshots"
	Videos      Kind = "videos"
)

// Extensions used for artifacts whose format is fixed.
const (
	TraceExt       = ".zip"
	ScreenshotExt  = ".png"
	VideoExt       = ".webm"
	RemoteVideoExt = ".mp4"
)

const timestampLayout = "2006-01-02-15-04-05"

// Namer builds collision-resistant file names for one browser identity.
type Namer struct {
	Engine  string
	Channel string
	// GOOS defaults to runtime.GOOS.
	GOOS string
	// Now defaults to time.Now.
	Now func() time.Time
}

// FileName returns {test}_{engine}[_{channel}]_{os}_{utc timestamp}{ext}.
func (n Namer) FileName(testName, ext string) string {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	goos := n.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	var b strings.Builder
	b.WriteString(testName)
	b.WriteByte('_')
	b.WriteString(n.Engine)
	if n.Channel != "" {
		b.WriteByte('_')
		b.WriteString(n.Channel)
	}
	b.WriteByte('_')
	b.WriteString(OSName(goos))
	b.WriteByte('_')
	b.WriteString(now().UTC().Format(timestampLayout))
	b.WriteString(ext)
	return b.String()
}

// OSName maps a GOOS value to the name used in artifact file names.
func OSName(goos string) string {
	switch goos {
	case "linux":
		return "linux"
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "other"
	}
}

// Dir returns the directory for kind under root. An empty root is the
// working directory.
func Dir(root string, kind Kind) string {
	return filepath.Join(root, string(kind))
}

// Path returns the full path of name within the kind directory under root.
func Path(root string, kind Kind, name string) string {
	return filepath.Join(Dir(root, kind), name)
}

// EnsureDir creates the kind directory under root. Concurrent sessions may
// race to create it, which MkdirAll tolerates.
func EnsureDir(root string, kind Kind) (string, error) {
	dir := Dir(root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", kind, err)
	}
	return dir, nil
}
