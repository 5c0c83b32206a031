package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ahrdadan/sessionfixture/internal/fixture"
	"github.com/ahrdadan/sessionfixture/internal/security"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	opts.Logger = zaptest.NewLogger(t)
	opts.CleanupInterval = -1
	m := newManager(nil, opts)
	t.Cleanup(m.Stop)
	return m
}

func queued(t *testing.T, m *Manager, req RunRequest) *Run {
	run, existed := m.store.SaveIfAbsent(NewRun(req, m.limits))
	require.False(t, existed)
	return run
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestExecutePassed(t *testing.T) {
	m := newTestManager(t, Options{})
	run := queued(t, m, RunRequest{Scenario: "search"})
	events := m.Subscribe(run.ID)

	out, _ := m.execute(run.ID, ProcessorFunc(func(ctx context.Context, r *Run, progress func(string)) (*fixture.Result, error) {
		assert.Equal(t, RunStatusRunning, r.Status)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		progress("console line")
		return &fixture.Result{TestName: "t", Status: fixture.StatusPassed}, nil
	}))
	assert.Equal(t, outcomeAck, out)

	got, err := m.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPassed, got.Status)
	assert.Equal(t, fixture.StatusPassed, got.Result.Status)

	evs := drain(events)
	require.Len(t, evs, 3)
	assert.Equal(t, RunStatusRunning, evs[0].Status)
	assert.Equal(t, "console line", evs[1].Message)
	assert.Equal(t, RunStatusPassed, evs[2].Status)
	assert.NotNil(t, evs[2].Result)
}

func TestExecuteInteractionFailureIsNotRetried(t *testing.T) {
	m := newTestManager(t, Options{})
	run := queued(t, m, RunRequest{Scenario: "search"})

	out, _ := m.execute(run.ID, ProcessorFunc(func(context.Context, *Run, func(string)) (*fixture.Result, error) {
		return &fixture.Result{Status: fixture.StatusFailed}, errors.New("results never appeared")
	}))
	assert.Equal(t, outcomeAck, out)

	got, _ := m.Get(run.ID)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "results never appeared", got.Error)
	assert.Zero(t, got.RetryCount)
}

func TestExecuteRetriesAcquireFailures(t *testing.T) {
	m := newTestManager(t, Options{Limits: Limits{MaxRetries: 1}})
	run := queued(t, m, RunRequest{Scenario: "search"})
	acquire := ProcessorFunc(func(context.Context, *Run, func(string)) (*fixture.Result, error) {
		return nil, &fixture.AcquireError{Stage: "launch browser", Err: errors.New("no chromium")}
	})

	out, _ := m.execute(run.ID, acquire)
	assert.Equal(t, outcomeRetry, out)
	got, _ := m.Get(run.ID)
	assert.Equal(t, RunStatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	out, delay := m.execute(run.ID, acquire)
	assert.Equal(t, outcomeDelay, out)
	assert.Positive(t, delay)

	_, _ = m.store.Update(run.ID, func(r *Run) error {
		r.NextRetryAt = time.Now().Add(-time.Second).Unix()
		return nil
	})
	out, _ = m.execute(run.ID, acquire)
	assert.Equal(t, outcomeAck, out)
	got, _ = m.Get(run.ID)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "no chromium")
}

func TestExecuteSkipsCanceledRuns(t *testing.T) {
	m := newTestManager(t, Options{})
	run := queued(t, m, RunRequest{Scenario: "search"})
	_, err := m.Cancel(run.ID)
	require.NoError(t, err)

	called := false
	out, _ := m.execute(run.ID, ProcessorFunc(func(context.Context, *Run, func(string)) (*fixture.Result, error) {
		called = true
		return nil, nil
	}))
	assert.Equal(t, outcomeAck, out)
	assert.False(t, called)

	_, err = m.Cancel(run.ID)
	assert.ErrorIs(t, err, ErrNotCancelable)
}

func TestCancelStopsRunningSession(t *testing.T) {
	m := newTestManager(t, Options{})
	run := queued(t, m, RunRequest{Scenario: "search"})
	started := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.execute(run.ID, ProcessorFunc(func(ctx context.Context, _ *Run, _ func(string)) (*fixture.Result, error) {
			close(started)
			<-ctx.Done()
			return &fixture.Result{Status: fixture.StatusFailed}, ctx.Err()
		}))
	}()

	<-started
	_, err := m.Cancel(run.ID)
	require.NoError(t, err)
	<-done

	got, _ := m.Get(run.ID)
	assert.Equal(t, RunStatusCanceled, got.Status)
	assert.NotNil(t, got.Result)
}

func TestExecuteSendsWebhook(t *testing.T) {
	received := make(chan WebhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "run.passed", r.Header.Get("X-Fixture-Event"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "sha256="+security.SignPayload(body, "s3cret"), r.Header.Get("X-Fixture-Signature"))
		var p WebhookPayload
		assert.NoError(t, json.Unmarshal(body, &p))
		received <- p
	}))
	defer srv.Close()

	m := newTestManager(t, Options{Notifier: NewNotifier("http://fixture.local/", zaptest.NewLogger(t))})
	run := queued(t, m, RunRequest{Scenario: "search", Notify: &NotifyConfig{WebhookURL: srv.URL, WebhookSecret: "s3cret"}})

	m.execute(run.ID, ProcessorFunc(func(context.Context, *Run, func(string)) (*fixture.Result, error) {
		return &fixture.Result{Status: fixture.StatusPassed}, nil
	}))

	select {
	case p := <-received:
		assert.Equal(t, run.ID, p.RunID)
		assert.Equal(t, RunStatusPassed, p.Status)
		assert.Equal(t, "http://fixture.local/fixture/runs/"+run.ID+"/result", p.ResultURL)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestNotifierReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier("", zaptest.NewLogger(t))
	run := NewRun(RunRequest{Notify: &NotifyConfig{WebhookURL: srv.URL}}, DefaultLimits())
	assert.ErrorContains(t, n.Notify(context.Background(), run), "502")

	assert.NoError(t, n.Notify(context.Background(), NewRun(RunRequest{}, DefaultLimits())))
}

func TestStartRequiresConsumer(t *testing.T) {
	m := newTestManager(t, Options{})
	assert.Error(t, m.Start(ProcessorFunc(func(context.Context, *Run, func(string)) (*fixture.Result, error) {
		return nil, nil
	})))
}
