package queue

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
	"git.home.luguber.info/inful/pagebaker/internal/retry"
)

// NATSConfig describes the JetStream work queue.
type NATSConfig struct {
	URL        string
	Stream     string
	Subject    string // prefix; messages go to "<Subject>.<action>"
	Durable    string
	MaxDeliver int
	AckWait    time.Duration
	Duplicates time.Duration
}

func (c *NATSConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = "PAGEBAKER"
	}
	if c.Subject == "" {
		c.Subject = "pagebaker.pages"
	}
	if c.Durable == "" {
		c.Durable = "pagebaker-workers"
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if c.AckWait <= 0 {
		c.AckWait = time.Minute
	}
	if c.Duplicates <= 0 {
		c.Duplicates = 2 * time.Minute
	}
}

// SubjectFor returns the subject a message is published on.
func (c NATSConfig) SubjectFor(msg *Message) string {
	return strings.TrimSuffix(c.Subject, ".") + "." + string(msg.Action)
}

// NATS is a JetStream-backed queue. Enqueue publishes with the message id as
// Nats-Msg-Id, so republishing the same message inside the duplicate window is
// a no-op.
type NATS struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	cfg      NATSConfig
	handler  Handler
	policy   retry.Policy
	recorder metrics.Recorder
	consume  jetstream.ConsumeContext
}

// NewNATS connects and makes sure the stream exists.
func NewNATS(ctx context.Context, cfg NATSConfig, handler Handler, policy retry.Policy, recorder metrics.Recorder) (*NATS, error) {
	cfg.applyDefaults()
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("pagebaker"))
	if err != nil {
		return nil, ferrors.QueueError("connect to NATS").WithCause(err).WithContext("url", cfg.URL).Build()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, ferrors.QueueError("create JetStream context").WithCause(err).Build()
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "pagebaker page events",
		Subjects:    []string{strings.TrimSuffix(cfg.Subject, ".") + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Duplicates:  cfg.Duplicates,
	})
	if err != nil {
		conn.Close()
		return nil, ferrors.QueueError("create stream").WithCause(err).WithContext("stream", cfg.Stream).Build()
	}

	slog.InfoContext(ctx, "NATS queue initialized", "url", cfg.URL, "stream", cfg.Stream, "subject", cfg.Subject)
	return &NATS{conn: conn, js: js, cfg: cfg, handler: handler, policy: policy, recorder: recorder}, nil
}

// Enqueue publishes msg to the stream.
func (n *NATS) Enqueue(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	ack, err := n.js.Publish(ctx, n.cfg.SubjectFor(msg), data, jetstream.WithMsgID(msg.ID))
	if err != nil {
		return ferrors.QueueError("publish message").WithCause(err).WithContext("message_id", msg.ID).Build()
	}
	if ack.Duplicate {
		slog.DebugContext(ctx, "Duplicate message ignored by stream", logfields.MessageID(msg.ID))
	}
	return nil
}

// Start creates the durable consumer and begins consuming.
func (n *NATS) Start(ctx context.Context) error {
	if n.handler == nil {
		return ferrors.QueueError("no handler configured").Permanent().Build()
	}
	cons, err := n.js.CreateOrUpdateConsumer(ctx, n.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       n.cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       n.cfg.AckWait,
		MaxDeliver:    n.cfg.MaxDeliver,
		FilterSubject: strings.TrimSuffix(n.cfg.Subject, ".") + ".>",
	})
	if err != nil {
		return ferrors.QueueError("create consumer").WithCause(err).WithContext("durable", n.cfg.Durable).Build()
	}
	cc, err := cons.Consume(func(m jetstream.Msg) { n.deliver(ctx, m) })
	if err != nil {
		return ferrors.QueueError("start consuming").WithCause(err).Build()
	}
	n.consume = cc
	slog.InfoContext(ctx, "NATS queue consuming", "durable", n.cfg.Durable, "max_deliver", n.cfg.MaxDeliver)
	return nil
}

// Stop stops consuming and drains the connection.
func (n *NATS) Stop(_ context.Context) error {
	if n.consume != nil {
		n.consume.Stop()
	}
	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			return ferrors.QueueError("drain NATS connection").WithCause(err).Build()
		}
	}
	return nil
}

// delivery is the part of jetstream.Msg a worker needs.
type delivery interface {
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// deliver handles one JetStream message: ack on success, nak with backoff on a
// retryable failure below MaxDeliver, terminate otherwise.
func (n *NATS) deliver(ctx context.Context, m delivery) {
	msg, err := Decode(m.Data())
	if err != nil {
		slog.WarnContext(ctx, "Dropping undecodable message", logfields.Error(err))
		n.recorder.IncQueueMessage("unknown", metrics.OutcomeDropped)
		_ = m.Term()
		return
	}
	attempt := 1
	if md, mdErr := m.Metadata(); mdErr == nil && md.NumDelivered > 0 {
		attempt = int(md.NumDelivered) // #nosec G115 -- bounded by MaxDeliver
	}
	msg.Attempt = attempt
	action := string(msg.Action)

	err = n.handler.Handle(ctx, msg)
	switch {
	case err == nil:
		n.recorder.IncQueueMessage(action, metrics.OutcomeSuccess)
		if ackErr := m.Ack(); ackErr != nil {
			slog.WarnContext(ctx, "Ack failed", logfields.MessageID(msg.ID), logfields.Error(ackErr))
		}
	case attempt < n.cfg.MaxDeliver && ferrors.IsRetryable(err):
		delay := n.policy.Delay(attempt)
		n.recorder.IncQueueMessage(action, metrics.OutcomeRetried)
		slog.WarnContext(ctx, "Transient bake error, redelivering",
			logfields.MessageID(msg.ID), logfields.Attempt(attempt), "delay", delay, logfields.Error(err))
		_ = m.NakWithDelay(delay)
	default:
		n.recorder.IncQueueMessage(action, metrics.OutcomeFailed)
		slog.ErrorContext(ctx, "Message failed",
			logfields.MessageID(msg.ID), logfields.Page(msg.Key().String()), logfields.Attempt(attempt), logfields.Error(err))
		_ = m.Term()
	}
}
