package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/fixture"
	"github.com/ahrdadan/sessionfixture/internal/logging"
)

const (
	// StreamName is the name of the JetStream stream
	StreamName = "FIXTURE_RUNS"
	// SubjectName is the subject for run messages
	SubjectName = "fixture.runs"
	// ConsumerName is the name of the durable consumer
	ConsumerName = "fixture-worker"
)

// ErrNotCancelable is returned when canceling a finished run.
var ErrNotCancelable = errors.New("run cannot be canceled")

// Processor executes one run.
type Processor interface {
	Process(ctx context.Context, run *Run, progress func(message string)) (*fixture.Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, run *Run, progress func(string)) (*fixture.Result, error)

func (f ProcessorFunc) Process(ctx context.Context, run *Run, progress func(string)) (*fixture.Result, error) {
	return f(ctx, run, progress)
}

// Options configure a Manager.
type Options struct {
	Logger          *zap.Logger
	Limits          Limits
	Notifier        *Notifier
	Workers         int
	CleanupInterval time.Duration
}

// Manager queues runs on JetStream and executes them with a Processor.
type Manager struct {
	js       jetstream.JetStream
	store    *Store
	events   *EventHub
	notifier *Notifier
	limits   Limits
	workers  int
	logger   *zap.Logger

	consumer jetstream.Consumer

	mu        sync.Mutex
	isRunning bool
	active    map[string]context.CancelFunc
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager creates a queue manager and sets up its stream and consumer.
func NewManager(ctx context.Context, js jetstream.JetStream, opts Options) (*Manager, error) {
	m := newManager(js, opts)
	if err := m.setupStream(ctx); err != nil {
		m.cancel()
		m.store.Stop()
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return m, nil
}

func newManager(js jetstream.JetStream, opts Options) *Manager {
	logger := logging.OrNop(opts.Logger).Named("queue")
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		js:       js,
		store:    NewStore(logger, opts.CleanupInterval),
		events:   NewEventHub(),
		notifier: opts.Notifier,
		limits:   opts.Limits,
		workers:  opts.Workers,
		logger:   logger,
		active:   make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// setupStream creates or updates the JetStream stream
func (m *Manager) setupStream(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Browser session runs",
		Subjects:    []string{SubjectName},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	consumer, err := m.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:          ConsumerName,
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    5,
		AckWait:       m.limits.MaxTimeout + time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	m.consumer = consumer
	return nil
}

// Start starts the workers.
func (m *Manager) Start(processor Processor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return nil
	}
	if m.consumer == nil {
		return errors.New("queue consumer is not set up")
	}
	m.isRunning = true

	m.logger.Info("starting run workers", zap.Int("workers", m.workers))
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work(processor)
	}
	return nil
}

func (m *Manager) work(processor Processor) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		msgs, err := m.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			m.logger.Debug("fetch failed", zap.Error(err))
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for msg := range msgs.Messages() {
			m.processMessage(msg, processor)
		}
	}
}

// Stop cancels running sessions and waits for the workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		m.cancel()
		m.store.Stop()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.store.Stop()
	m.events.Close()
	m.logger.Info("run workers stopped")
}

// Submit queues a run. A request whose idempotency key matches a live run
// returns that run with duplicate set.
func (m *Manager) Submit(ctx context.Context, req RunRequest) (run *Run, duplicate bool, err error) {
	run, duplicate = m.store.SaveIfAbsent(NewRun(req, m.limits))
	if duplicate {
		return run, true, nil
	}

	if err := m.publish(ctx, run); err != nil {
		m.store.Delete(run.ID)
		return nil, false, err
	}

	m.events.Emit(Event{RunID: run.ID, Status: run.Status, Message: "Run queued"})
	return run, false, nil
}

func (m *Manager) publish(ctx context.Context, run *Run) error {
	data, err := run.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := m.js.Publish(ctx, SubjectName, data); err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID
func (m *Manager) Get(id string) (*Run, error) {
	return m.store.Get(id)
}

// Cancel marks a run canceled and stops its session if one is running.
func (m *Manager) Cancel(id string) (*Run, error) {
	run, err := m.store.Update(id, func(r *Run) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrNotCancelable, r.Status)
		}
		r.SetStatus(RunStatusCanceled, "Run canceled")
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if cancel, ok := m.active[id]; ok {
		cancel()
	}
	m.mu.Unlock()

	m.events.Emit(Event{RunID: run.ID, Status: run.Status, Message: run.Message})
	return run, nil
}

// Subscribe subscribes to run events
func (m *Manager) Subscribe(id string) <-chan Event {
	return m.events.Subscribe(id)
}

// Unsubscribe unsubscribes from run events
func (m *Manager) Unsubscribe(id string, ch <-chan Event) {
	m.events.Unsubscribe(id, ch)
}

// Limits returns the request limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// outcome says what to do with the message that carried a run.
type outcome int

const (
	outcomeAck outcome = iota
	outcomeDelay
	outcomeRetry
)

func (m *Manager) processMessage(msg jetstream.Msg, processor Processor) {
	queued, err := FromJSON(msg.Data())
	if err != nil {
		m.logger.Error("dropping malformed run message", zap.Error(err))
		_ = msg.Term()
		return
	}

	out, delay := m.execute(queued.ID, processor)
	switch out {
	case outcomeDelay:
		_ = msg.NakWithDelay(delay)
		return
	case outcomeRetry:
		run, err := m.store.Get(queued.ID)
		if err == nil {
			err = m.publish(m.ctx, run)
		}
		if err != nil {
			m.logger.Error("failed to re-enqueue run", zap.String("run_id", queued.ID), zap.Error(err))
		}
	}
	_ = msg.Ack()
}

// execute runs the stored run once and records its outcome.
func (m *Manager) execute(id string, processor Processor) (outcome, time.Duration) {
	logger := m.logger.With(zap.String("run_id", id))

	stored, err := m.store.Get(id)
	if err != nil {
		logger.Warn("skipping run", zap.Error(err))
		return outcomeAck, 0
	}
	switch {
	case stored.Status.Terminal():
		return outcomeAck, 0
	case stored.Status == RunStatusRetrying && stored.NextRetryAt > 0:
		if wait := time.Until(time.Unix(stored.NextRetryAt, 0)); wait > 0 {
			return outcomeDelay, wait
		}
	}

	ctx, cancel := context.WithTimeout(m.ctx, stored.TimeoutDuration())
	defer cancel()

	run, err := m.store.Update(id, func(r *Run) error {
		if r.Status == RunStatusCanceled {
			return ErrNotCancelable
		}
		r.SetStatus(RunStatusRunning, "Session started")
		return nil
	})
	if err != nil {
		return outcomeAck, 0
	}
	m.track(id, cancel)
	defer m.untrack(id)
	m.events.Emit(Event{RunID: id, Status: run.Status, Message: run.Message})

	logger.Info("run started", zap.String("scenario", run.Request.Scenario), zap.Int("attempt", run.RetryCount+1))
	result, procErr := processor.Process(ctx, run, func(message string) {
		m.events.Emit(Event{RunID: id, Status: RunStatusRunning, Message: message})
	})

	retry := false
	run, err = m.store.Update(id, func(r *Run) error {
		switch {
		case r.Status == RunStatusCanceled:
			r.Result = result
		case procErr != nil && fixture.IsAcquireError(procErr) && r.CanRetry():
			r.PrepareRetry(procErr)
			retry = true
		default:
			r.Complete(result, procErr)
		}
		return nil
	})
	if err != nil {
		logger.Warn("run vanished while executing", zap.Error(err))
		return outcomeAck, 0
	}

	m.events.Emit(Event{RunID: id, Status: run.Status, Message: run.Message, Result: run.Result})
	if retry {
		logger.Warn("browser unavailable, retrying run",
			zap.Int("retry", run.RetryCount),
			zap.Int("max_retries", run.MaxRetries),
			zap.Error(procErr),
		)
		return outcomeRetry, 0
	}

	logger.Info("run finished", zap.String("status", string(run.Status)))
	if m.notifier != nil && run.Request.Notify != nil && run.Request.Notify.WebhookURL != "" {
		go func(run *Run) {
			if err := m.notifier.Notify(context.Background(), run); err != nil {
				logger.Warn("webhook failed", zap.Error(err))
			}
		}(run)
	}
	return outcomeAck, 0
}

func (m *Manager) track(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = cancel
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}
