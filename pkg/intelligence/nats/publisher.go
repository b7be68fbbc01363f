package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
)

// RunMessage is the payload published after each correlation run
type RunMessage struct {
	InvestigationID domain.InvestigationID `json:"investigation_id"`
	RunID           string                 `json:"run_id"`
	PublishedAt     time.Time              `json:"published_at"`
	Summary         correlation.Summary    `json:"summary"`
	Correlations    []domain.Correlation   `json:"correlations"`
}

type jetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher sends run results to sift.correlations.<investigation>
type Publisher struct {
	logger  *zap.Logger
	js      jetStreamPublisher
	subject string
}

// NewPublisher sets up the stream on an open connection
func NewPublisher(logger *zap.Logger, nc *nats.Conn, cfg config.NATSConfig) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	if err := EnsureStream(js, cfg, logger); err != nil {
		return nil, err
	}
	return newPublisher(logger, js, cfg.ResultsSubject), nil
}

func newPublisher(logger *zap.Logger, js jetStreamPublisher, subject string) *Publisher {
	return &Publisher{logger: logger, js: js, subject: subject}
}

// Subject returns the subject results for an investigation are published on
func (p *Publisher) Subject(id domain.InvestigationID) string {
	return p.subject + "." + SubjectToken(id)
}

// PublishRun publishes one run's ranked correlations. The run ID doubles as
// the JetStream message ID so retried publishes are deduplicated.
func (p *Publisher) PublishRun(ctx context.Context, id domain.InvestigationID, result *correlation.Result) error {
	msg := RunMessage{
		InvestigationID: id,
		RunID:           result.RunID,
		PublishedAt:     time.Now().UTC(),
		Summary:         result.Summary,
		Correlations:    result.Correlations,
	}
	if msg.Correlations == nil {
		msg.Correlations = []domain.Correlation{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", result.RunID, err)
	}

	subject := p.Subject(id)
	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(result.RunID))
	if err != nil {
		return fmt.Errorf("failed to publish run %s: %w", result.RunID, err)
	}

	p.logger.Debug("Published correlation run",
		zap.String("subject", subject),
		zap.String("run_id", result.RunID),
		zap.Int("correlations", len(result.Correlations)),
		zap.Uint64("sequence", ack.Sequence))
	return nil
}
