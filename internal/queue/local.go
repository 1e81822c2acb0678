package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
	"git.home.luguber.info/inful/pagebaker/internal/retry"
)

// Status of a processed message.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDropped   Status = "dropped"
)

// Result records how a message ended.
type Result struct {
	MessageID   string        `json:"message_id"`
	Action      string        `json:"action"`
	Page        string        `json:"page"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Local is an in-process queue served by a fixed worker pool.
type Local struct {
	msgs        chan *Message
	workers     int
	maxSize     int
	handler     Handler
	retryPolicy retry.Policy
	recorder    metrics.Recorder

	mu          sync.RWMutex
	history     []Result
	historySize int

	// sendMu orders Enqueue against closing stopChan so nothing is
	// accepted after the drain has begun.
	sendMu   sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	runCtx context.Context
	cancel context.CancelFunc
}

// LocalOption configures a Local queue.
type LocalOption func(*Local)

// WithRetryPolicy sets the policy used for retryable handler errors.
func WithRetryPolicy(p retry.Policy) LocalOption {
	return func(q *Local) { q.retryPolicy = p }
}

// WithMetrics reports message outcomes to r.
func WithMetrics(r metrics.Recorder) LocalOption {
	return func(q *Local) {
		if r != nil {
			q.recorder = r
		}
	}
}

// WithHistorySize sets how many results are kept.
func WithHistorySize(n int) LocalOption {
	return func(q *Local) {
		if n > 0 {
			q.historySize = n
		}
	}
}

// NewLocal creates a queue holding up to maxSize pending messages.
func NewLocal(maxSize, workers int, handler Handler, opts ...LocalOption) *Local {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if handler == nil {
		panic("NewLocal: handler is required")
	}
	q := &Local{
		msgs:        make(chan *Message, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		handler:     handler,
		retryPolicy: retry.DefaultPolicy(),
		recorder:    metrics.NoopRecorder{},
		historySize: 50,
		stopChan:    make(chan struct{}),
	}
	q.runCtx, q.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. Handlers see ctx's values but not its
// cancellation; canceling ctx begins the same drain as Stop, and only Stop's
// deadline aborts in-flight work.
func (q *Local) Start(ctx context.Context) error {
	q.runCtx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	slog.InfoContext(ctx, "Starting local queue", "workers", q.workers, "max_size", q.maxSize)
	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(q.runCtx, fmt.Sprintf("worker-%d", i))
	}
	go func() {
		select {
		case <-ctx.Done():
			q.closeStop()
		case <-q.stopChan:
		}
	}()
	return nil
}

// Stop refuses new messages and lets the workers drain the pending ones.
// When ctx expires first, in-flight handlers are canceled and whatever is
// still pending is dropped, logged and counted.
func (q *Local) Stop(ctx context.Context) error {
	q.closeStop()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	q.cancel()
	q.dropPending(ctx)
	return err
}

func (q *Local) closeStop() {
	q.stopOnce.Do(func() {
		q.sendMu.Lock()
		defer q.sendMu.Unlock()
		close(q.stopChan)
	})
}

// Enqueue adds msg without blocking. A full queue is a retryable queue error.
func (q *Local) Enqueue(_ context.Context, msg *Message) error {
	if msg == nil {
		return ferrors.ValidationError("message cannot be nil").Build()
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	select {
	case <-q.stopChan:
		return ferrors.QueueError("queue is stopped").Permanent().Build()
	default:
	}
	select {
	case q.msgs <- msg:
		return nil
	default:
		return ferrors.QueueError("queue is full").WithContext("max_size", q.maxSize).Build()
	}
}

// Length returns the number of pending messages.
func (q *Local) Length() int { return len(q.msgs) }

// History returns the most recent results, oldest first.
func (q *Local) History() []Result {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Result(nil), q.history...)
}

func (q *Local) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		select {
		case msg := <-q.msgs:
			q.process(ctx, msg, workerID)
		case <-q.stopChan:
			q.drain(ctx, workerID)
			return
		}
	}
}

// drain processes pending messages until the channel is empty or ctx is
// canceled, in which case the rest is left to dropPending.
func (q *Local) drain(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		select {
		case msg := <-q.msgs:
			q.process(ctx, msg, workerID)
		default:
			return
		}
	}
}

func (q *Local) dropPending(ctx context.Context) {
	for {
		select {
		case msg := <-q.msgs:
			q.recorder.IncQueueMessage(string(msg.Action), metrics.OutcomeDropped)
			slog.WarnContext(ctx, "Dropping pending message on shutdown",
				logfields.MessageID(msg.ID),
				logfields.Action(string(msg.Action)),
				logfields.Page(msg.Key().String()))
			q.addToHistory(Result{
				MessageID:   msg.ID,
				Action:      string(msg.Action),
				Page:        msg.Key().String(),
				Status:      StatusDropped,
				CompletedAt: time.Now(),
			})
		default:
			return
		}
	}
}

func (q *Local) process(ctx context.Context, msg *Message, workerID string) {
	start := time.Now()
	retries := 0
	var err error
	for {
		msg.Attempt = retries + 1
		err = q.handler.Handle(ctx, msg)
		if !q.retryPolicy.ShouldRetry(err, retries) {
			break
		}
		retries++
		q.recorder.IncQueueMessage(string(msg.Action), metrics.OutcomeRetried)
		delay := q.retryPolicy.Delay(retries)
		slog.WarnContext(ctx, "Transient bake error, retrying",
			logfields.MessageID(msg.ID),
			logfields.Worker(workerID),
			logfields.Attempt(msg.Attempt),
			"retry", retries,
			"max_retries", q.retryPolicy.MaxRetries,
			"delay", delay,
			logfields.Error(err))
		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			err = sleepErr
			break
		}
	}

	res := Result{
		MessageID:   msg.ID,
		Action:      string(msg.Action),
		Page:        msg.Key().String(),
		Status:      StatusCompleted,
		Attempts:    msg.Attempt,
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
	}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		q.recorder.IncQueueMessage(string(msg.Action), metrics.OutcomeFailed)
		slog.ErrorContext(ctx, "Message failed",
			logfields.MessageID(msg.ID),
			logfields.Worker(workerID),
			logfields.Page(res.Page),
			logfields.Attempt(msg.Attempt),
			logfields.Error(err))
	} else {
		q.recorder.IncQueueMessage(string(msg.Action), metrics.OutcomeSuccess)
	}
	q.addToHistory(res)
}

func (q *Local) addToHistory(res Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history = append(q.history, res)
	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}
