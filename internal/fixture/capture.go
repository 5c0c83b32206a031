package fixture

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/artifact"
	"github.com/ahrdadan/sessionfixture/internal/browser"
	"github.com/ahrdadan/sessionfixture/internal/browserstack"
)

// Capture steps are best effort: failures are logged and never change the
// session outcome.

// recordFailure takes a screenshot and then reports the failure.
func (f *Fixture) recordFailure(ctx context.Context, s *session, strategy modeStrategy, cause error) {
	s.result.Status = StatusFailed
	s.result.Error = cause.Error()
	f.screenshot(s)
	f.report(ctx, s, strategy, StatusFailed, cause.Error())
}

func (f *Fixture) screenshot(s *session) {
	dir, err := artifact.EnsureDir(f.opts.ArtifactsDir, artifact.Screenshots)
	if err != nil {
		f.out.Logf("Failed to capture screenshot: %v", err)
		f.logger.Warn("failed to capture screenshot", zap.Error(err))
		return
	}
	path := filepath.Join(dir, s.namer.FileName(s.name, artifact.ScreenshotExt))
	if err := s.page.Screenshot(path); err != nil {
		f.out.Logf("Failed to capture screenshot: %v", err)
		f.logger.Warn("failed to capture screenshot", zap.Error(err))
		return
	}
	s.result.add(artifact.Screenshots, path)
	f.out.Logf("Screenshot saved to %s.", path)
}

func (f *Fixture) report(ctx context.Context, s *session, strategy modeStrategy, status, reason string) {
	reporter := browserstack.NewReporter(strategy.reportStatus, f.logger)
	if err := reporter.Report(context.WithoutCancel(ctx), s.page, status, reason); err != nil {
		f.logger.Warn("failed to report session status", zap.String("status", status), zap.Error(err))
	}
}

func (f *Fixture) stopTrace(bctx browser.Context, s *session) {
	dir, err := artifact.EnsureDir(f.opts.ArtifactsDir, artifact.Traces)
	if err != nil {
		f.logger.Warn("failed to stop tracing", zap.Error(err))
		return
	}
	path := filepath.Join(dir, s.namer.FileName(s.name, artifact.TraceExt))
	if err := bctx.StopTracing(path); err != nil {
		f.out.Logf("Failed to save trace: %v", err)
		f.logger.Warn("failed to stop tracing", zap.Error(err))
		return
	}
	s.result.add(artifact.Traces, path)
	f.out.Logf("Trace saved to %s.", path)
}

// saveLocalVideo closes the page so the recording is finalized, then copies
// it into the videos directory.
func (f *Fixture) saveLocalVideo(_ context.Context, s *session, v browser.Video) string {
	s.closePage(f)
	if v == nil {
		return ""
	}

	dir, err := artifact.EnsureDir(f.opts.ArtifactsDir, artifact.Videos)
	if err != nil {
		f.logger.Warn("failed to capture video", zap.Error(err))
		return ""
	}
	path := filepath.Join(dir, s.namer.FileName(s.name, artifact.VideoExt))
	if err := v.SaveAs(path); err != nil {
		f.out.Logf("Failed to capture video: %v", err)
		f.logger.Warn("failed to capture video", zap.Error(err))
		return ""
	}
	s.result.add(artifact.Videos, path)
	f.out.Logf("Video saved to %s.", path)
	return ""
}

// remoteVideoURL asks the provider where the recording will be published.
// The page must still be open.
func (f *Fixture) remoteVideoURL(ctx context.Context, s *session, _ browser.Video) string {
	details, err := browserstack.FetchSessionDetails(context.WithoutCancel(ctx), s.page)
	if err == nil && details.VideoURL == "" {
		err = browserstack.ErrNoVideoURL
	}
	if err != nil {
		f.out.Logf("Failed to capture video: %v", err)
		f.logger.Warn("failed to capture video", zap.Error(err))
		return ""
	}
	s.result.VideoURL = details.VideoURL
	return details.VideoURL
}
