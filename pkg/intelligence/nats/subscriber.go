package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/domain"
)

// RunRequest asks for a correlation run over a stored investigation
type RunRequest struct {
	InvestigationID domain.InvestigationID `json:"investigation_id"`
}

// RunHandler executes run requests
type RunHandler interface {
	HandleRun(ctx context.Context, req RunRequest) error
}

// RunHandlerFunc adapts a function to RunHandler
type RunHandlerFunc func(ctx context.Context, req RunRequest) error

// HandleRun calls f
func (f RunHandlerFunc) HandleRun(ctx context.Context, req RunRequest) error {
	return f(ctx, req)
}

// ErrInvalidRequest marks messages that can never succeed; they are
// terminated instead of redelivered.
var ErrInvalidRequest = errors.New("invalid run request")

// message is the part of *nats.Msg the subscriber acknowledges through
type message interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

// Subscriber pulls run requests from sift.runs.> and hands them to a RunHandler
type Subscriber struct {
	logger  *zap.Logger
	handler RunHandler
	config  config.NATSConfig

	js           nats.JetStreamContext
	subscription *nats.Subscription

	wg sync.WaitGroup

	mu               sync.RWMutex
	messagesReceived int64
	messagesAcked    int64
	messagesNacked   int64
	messagesTermed   int64
	processingErrors int64
}

// NewSubscriber creates the durable pull consumer on an open connection
func NewSubscriber(logger *zap.Logger, nc *nats.Conn, cfg config.NATSConfig, handler RunHandler) (*Subscriber, error) {
	if handler == nil {
		return nil, fmt.Errorf("run handler is required")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	s := newSubscriber(logger, cfg, handler)
	s.js = js
	if err := EnsureStream(js, cfg, logger); err != nil {
		return nil, err
	}
	if err := s.ensureConsumer(); err != nil {
		return nil, err
	}
	return s, nil
}

func newSubscriber(logger *zap.Logger, cfg config.NATSConfig, handler RunHandler) *Subscriber {
	return &Subscriber{logger: logger, config: cfg, handler: handler}
}

func (s *Subscriber) filterSubject() string {
	return s.config.RunsSubject + ".>"
}

func (s *Subscriber) ensureConsumer() error {
	consumerConfig := &nats.ConsumerConfig{
		Durable:       s.config.ConsumerName,
		DeliverPolicy: nats.DeliverAllPolicy,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       s.config.AckWait,
		MaxDeliver:    s.config.MaxDeliver,
		FilterSubject: s.filterSubject(),
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}

	_, err := s.js.ConsumerInfo(s.config.StreamName, s.config.ConsumerName)
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
		if _, err := s.js.AddConsumer(s.config.StreamName, consumerConfig); err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		s.logger.Info("Created JetStream consumer", zap.String("name", s.config.ConsumerName))
	case err != nil:
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	return nil
}

// Start processes run requests until ctx is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("Starting NATS subscriber",
		zap.String("stream", s.config.StreamName),
		zap.String("subject", s.filterSubject()),
		zap.String("consumer", s.config.ConsumerName))

	sub, err := s.js.PullSubscribe(s.filterSubject(), s.config.ConsumerName, nats.Bind(s.config.StreamName, s.config.ConsumerName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.subscription = sub

	s.wg.Add(1)
	go s.fetchMessages(ctx)

	<-ctx.Done()
	return s.stop()
}

func (s *Subscriber) stop() error {
	s.logger.Info("Stopping NATS subscriber")
	s.wg.Wait()

	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			s.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}

	stats := s.Stats()
	s.logger.Info("NATS subscriber stopped",
		zap.Int64("messages_received", stats.Received),
		zap.Int64("messages_acked", stats.Acked),
		zap.Int64("messages_nacked", stats.Nacked),
		zap.Int64("messages_terminated", stats.Terminated),
		zap.Int64("processing_errors", stats.ProcessingErrors))
	return nil
}

func (s *Subscriber) fetchMessages(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
		msgs, err := s.subscription.Fetch(s.config.BatchSize, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				continue
			}
			s.logger.Error("Failed to fetch messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			s.handleMessage(ctx, msg, msg.Subject, msg.Data)
		}
	}
}

// handleMessage runs one request and settles the message: ack on success,
// term when the request is malformed or deliveries are exhausted, nak otherwise.
func (s *Subscriber) handleMessage(ctx context.Context, msg message, subject string, data []byte) {
	s.mu.Lock()
	s.messagesReceived++
	s.mu.Unlock()

	req, err := ParseRunRequest(s.config.RunsSubject, subject, data)
	if err != nil {
		s.logger.Error("Dropping run request",
			zap.Error(err),
			zap.String("subject", subject))
		s.termMessage(msg)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.AckWait)
	defer cancel()

	if err := s.handler.HandleRun(runCtx, req); err != nil {
		s.mu.Lock()
		s.processingErrors++
		s.mu.Unlock()

		s.logger.Error("Failed to process run request",
			zap.Error(err),
			zap.String("investigation_id", string(req.InvestigationID)))

		if errors.Is(err, ErrInvalidRequest) {
			s.termMessage(msg)
			return
		}
		metadata, _ := msg.Metadata()
		if metadata != nil && s.config.MaxDeliver > 0 && metadata.NumDelivered >= uint64(s.config.MaxDeliver) {
			s.logger.Warn("Max delivery attempts reached, terminating message",
				zap.String("investigation_id", string(req.InvestigationID)),
				zap.Uint64("deliveries", metadata.NumDelivered))
			s.termMessage(msg)
			return
		}
		s.nackMessage(msg)
		return
	}

	s.ackMessage(msg)
	s.logger.Debug("Run request processed",
		zap.String("investigation_id", string(req.InvestigationID)))
}

// ParseRunRequest decodes a request body. An empty body, or one without an
// investigation ID, takes the ID from the subject suffix.
func ParseRunRequest(prefix, subject string, data []byte) (RunRequest, error) {
	var req RunRequest
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return RunRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if req.InvestigationID == "" {
		if suffix, ok := strings.CutPrefix(subject, prefix+"."); ok && suffix != "" {
			req.InvestigationID = domain.InvestigationID(suffix)
		}
	}
	if req.InvestigationID == "" {
		return RunRequest{}, fmt.Errorf("%w: missing investigation_id", ErrInvalidRequest)
	}
	return req, nil
}

func (s *Subscriber) ackMessage(msg message) {
	if err := msg.Ack(); err != nil {
		s.logger.Error("Failed to acknowledge message", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.messagesAcked++
	s.mu.Unlock()
}

func (s *Subscriber) nackMessage(msg message) {
	if err := msg.Nak(); err != nil {
		s.logger.Error("Failed to nack message", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.messagesNacked++
	s.mu.Unlock()
}

func (s *Subscriber) termMessage(msg message) {
	if err := msg.Term(); err != nil {
		s.logger.Error("Failed to terminate message", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.messagesTermed++
	s.mu.Unlock()
}

// SubscriberStats counts message outcomes
type SubscriberStats struct {
	Received         int64 `json:"messages_received"`
	Acked            int64 `json:"messages_acked"`
	Nacked           int64 `json:"messages_nacked"`
	Terminated       int64 `json:"messages_terminated"`
	ProcessingErrors int64 `json:"processing_errors"`
}

// Stats returns current message counters
func (s *Subscriber) Stats() SubscriberStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SubscriberStats{
		Received:         s.messagesReceived,
		Acked:            s.messagesAcked,
		Nacked:           s.messagesNacked,
		Terminated:       s.messagesTermed,
		ProcessingErrors: s.processingErrors,
	}
}
