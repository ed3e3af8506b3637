// Package kafkatransport dispatches questions over Kafka.
package kafkatransport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/octue/twined-server/internal/transport/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config contains configurable parameters for the Kafka transport.
type Config struct {
	// Brokers is the default list of Kafka broker addresses (host:port).
	// A dispatch may override them per backend.
	Brokers []string

	// MaxAttempts is how many times a dispatch is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout for writes. Defaults to 10s
	// if zero.
	WriteTimeout time.Duration
}

// Transport writes question messages to the topic addressing the target
// service revision. The key is the question id so redeliveries of the same
// question stay on one partition. One writer is kept per broker set so
// backends routed to other clusters reuse a connection.
type Transport struct {
	defaultKey   string
	writeTimeout time.Duration
	maxAttempts  int
	log          *zap.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

type questionMessage struct {
	Kind          string         `json:"kind"`
	QuestionUUID  string         `json:"question_uuid"`
	InputValues   map[string]any `json:"input_values,omitempty"`
	InputManifest map[string]any `json:"input_manifest,omitempty"`
	PushEndpoint  string         `json:"push_endpoint"`
	AskerName     string         `json:"asker_name"`
	Project       string         `json:"project,omitempty"`
	SentAt        time.Time      `json:"sent_at"`
}

func New(cfg Config, log *zap.Logger) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	t := &Transport{
		defaultKey:   brokerKey(cfg.Brokers),
		writeTimeout: cfg.WriteTimeout,
		maxAttempts:  cfg.MaxAttempts,
		log:          log.Named("transport.kafka"),
		writers:      make(map[string]*kafka.Writer),
	}
	t.writers[t.defaultKey] = t.newWriter(cfg.Brokers)
	return t, nil
}

func brokerKey(brokers []string) string {
	return strings.Join(brokers, ",")
}

func (t *Transport) newWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr: kafka.TCP(brokers...),
		// Topic is set per message; each service revision has its own.
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: t.writeTimeout,
		Async:        false,
	}
}

func (t *Transport) writerFor(brokers []string) *kafka.Writer {
	key := t.defaultKey
	if len(brokers) > 0 {
		key = brokerKey(brokers)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.writers[key]; ok {
		return w
	}
	w := t.newWriter(brokers)
	t.writers[key] = w
	return w
}

// Ask publishes the question and returns a subscription handle for its
// answer stream.
func (t *Transport) Ask(ctx context.Context, req domain.AskRequest) (domain.Subscription, error) {
	if req.Topic == "" {
		return domain.Subscription{}, fmt.Errorf("kafka: topic required")
	}
	if req.QuestionID == "" {
		return domain.Subscription{}, fmt.Errorf("kafka: question id required")
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(questionMessage{
		Kind:          "question",
		QuestionUUID:  req.QuestionID,
		InputValues:   req.InputValues,
		InputManifest: req.InputManifest,
		PushEndpoint:  req.PushEndpoint,
		AskerName:     req.AskerName,
		Project:       req.Project,
		SentAt:        time.Now().UTC(),
	})
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("kafka: encode question: %w", err)
	}

	msg := kafka.Message{
		Topic: req.Topic,
		Key:   []byte(req.QuestionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "question_uuid", Value: []byte(req.QuestionID)},
			{Key: "push_endpoint", Value: []byte(req.PushEndpoint)},
		},
	}

	writer := t.writerFor(req.Brokers)

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		lastErr = writer.WriteMessages(ctx, msg)
		if lastErr == nil {
			return domain.Subscription{
				ID:           fmt.Sprintf("%s.answers.%s", req.Topic, req.QuestionID),
				Topic:        req.Topic,
				PushEndpoint: req.PushEndpoint,
			}, nil
		}
		if ctx.Err() != nil {
			break
		}
		t.log.Warn("question dispatch attempt failed",
			zap.String("topic", req.Topic),
			zap.String("question_uuid", req.QuestionID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	return domain.Subscription{}, fmt.Errorf("kafka: write question to %s: %w", req.Topic, lastErr)
}

// Close flushes and closes every writer.
func (t *Transport) Close() error {
	t.mu.Lock()
	writers := make([]*kafka.Writer, 0, len(t.writers))
	for _, w := range t.writers {
		writers = append(writers, w)
	}
	t.writers = make(map[string]*kafka.Writer)
	t.mu.Unlock()

	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
