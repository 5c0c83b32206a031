// Package video downloads session recordings published by the remote
// provider.
package video

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/artifact"
	"github.com/ahrdadan/sessionfixture/internal/logging"
)

// Defaults for polling a recording that is still being processed.
const (
	DefaultMaxAttempts = 10
	DefaultRetryDelay  = 2 * time.Second
)

// StatusError is a response status that will not improve by retrying.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("video download from %s failed: HTTP %d", e.URL, e.StatusCode)
}

// Retriever polls a video URL until the recording is published and saves
// it under the videos directory.
type Retriever struct {
	// Root is the artifacts root; videos land in Root/videos.
	Root        string
	Client      *http.Client
	MaxAttempts int
	RetryDelay  time.Duration
	// Sleep waits between attempts. It defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	logger *zap.Logger
}

// NewRetriever creates a retriever with the default polling policy.
func NewRetriever(root string, logger *zap.Logger) *Retriever {
	return &Retriever{
		Root:        root,
		Client:      http.DefaultClient,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		Sleep:       sleep,
		logger:      logging.OrNop(logger).Named("video"),
	}
}

// Retrieve downloads videoURL and returns the saved path. A 404 means the
// recording is not ready yet and is retried; after the last attempt the
// retriever gives up and returns an empty path with no error. Any other
// non-2xx status is returned as a *StatusError.
func (r *Retriever) Retrieve(ctx context.Context, videoURL string, namer artifact.Namer, testName string) (string, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		path, ready, err := r.fetch(ctx, videoURL, namer, testName)
		if err != nil || ready {
			return path, err
		}

		r.logger.Debug("video not ready",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
		)
		if attempt == attempts {
			break
		}
		if err := r.wait(ctx); err != nil {
			return "", err
		}
	}

	r.logger.Warn("video not available, giving up",
		zap.String("url", videoURL),
		zap.Int("attempts", attempts),
	)
	return "", nil
}

// fetch performs one attempt. ready is false when the server answered 404.
func (r *Retriever) fetch(ctx context.Context, videoURL string, namer artifact.Namer, testName string) (path string, ready bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("invalid video url: %w", err)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false, &StatusError{URL: videoURL, StatusCode: resp.StatusCode}
	}

	dir, err := artifact.EnsureDir(r.Root, artifact.Videos)
	if err != nil {
		return "", false, err
	}
	path = filepath.Join(dir, namer.FileName(testName, extension(resp.Header.Get("Content-Disposition"))))

	out, err := os.Create(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to create video file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", false, fmt.Errorf("failed to save video: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", false, fmt.Errorf("failed to save video: %w", err)
	}

	r.logger.Info("video saved", zap.String("path", path))
	return path, true, nil
}

func (r *Retriever) wait(ctx context.Context) error {
	delay := r.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	s := r.Sleep
	if s == nil {
		s = sleep
	}
	return s(ctx, delay)
}

// extension returns the extension of the filename in a Content-Disposition
// header, or the remote video default.
func extension(disposition string) string {
	if disposition == "" {
		return artifact.RemoteVideoExt
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return artifact.RemoteVideoExt
	}
	if ext := filepath.Ext(params["filename"]); ext != "" {
		return ext
	}
	return artifact.RemoteVideoExt
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
