package nats

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// NATSVersion is the nats-server release downloaded when none is installed.
const NATSVersion = "2.10.24"

// releaseBase is where nats-server releases are published.
var releaseBase = "https://github.com/nats-io/nats-server/releases/download"

// DownloadURL returns the release archive URL for a platform.
func DownloadURL(goos, goarch string) (string, error) {
	switch goos {
	case "linux", "darwin", "windows":
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
	switch goarch {
	case "amd64", "arm64":
	default:
		return "", fmt.Errorf("unsupported architecture: %s", goarch)
	}
	return fmt.Sprintf("%s/v%s/nats-server-v%s-%s-%s.zip",
		releaseBase, NATSVersion, NATSVersion, goos, goarch), nil
}

// EnsureBinary returns a runnable nats-server. binPath may be a bare name
// found on PATH. A missing binary is downloaded to binPath when
// allowDownload is set.
func EnsureBinary(ctx context.Context, binPath string, allowDownload bool, logger *zap.Logger) (string, error) {
	if path, err := exec.LookPath(binPath); err == nil {
		return path, nil
	}
	if !allowDownload {
		return "", fmt.Errorf("nats-server not found at %s and download is disabled", binPath)
	}

	if !strings.ContainsRune(binPath, filepath.Separator) {
		binPath = filepath.Join("bin", binPath)
	}
	if runtime.GOOS == "windows" && filepath.Ext(binPath) != ".exe" {
		binPath += ".exe"
	}

	url, err := DownloadURL(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}
	logger.Info("downloading nats-server", zap.String("url", url), zap.String("dest", binPath))

	if err := download(ctx, url, binPath); err != nil {
		return "", err
	}
	return filepath.Abs(binPath)
}

func download(ctx context.Context, url, binPath string) error {
	if err := os.MkdirAll(filepath.Dir(binPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for nats-server: %w", err)
	}

	tmp, err := os.CreateTemp("", "nats-server-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download nats-server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download nats-server: HTTP %d", resp.StatusCode)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return fmt.Errorf("failed to save nats-server archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := extractBinary(tmp.Name(), binPath); err != nil {
		return fmt.Errorf("failed to extract nats-server: %w", err)
	}
	return os.Chmod(binPath, 0o755)
}

// extractBinary copies the nats-server executable out of a release zip.
func extractBinary(zipPath, destPath string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if name != "nats-server" && name != "nats-server.exe" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		defer rc.Close()

		out, err := os.Create(destPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", destPath, err)
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			return fmt.Errorf("failed to copy binary: %w", err)
		}
		return out.Close()
	}
	return fmt.Errorf("nats-server binary not found in archive")
}
