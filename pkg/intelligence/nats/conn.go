// Package nats publishes correlation results to JetStream and consumes
// correlation run requests from it.
package nats

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/domain"
)

// Connect dials the server with reconnect handling and logging hooks
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// EnsureStream creates the stream holding results and run requests, or
// adds any missing subjects to an existing one.
func EnsureStream(js nats.JetStreamManager, cfg config.NATSConfig, logger *zap.Logger) error {
	streamConfig := &nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  cfg.Subjects(),
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
	}

	info, err := js.StreamInfo(cfg.StreamName)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		logger.Info("Created JetStream stream", zap.String("name", cfg.StreamName))
		return nil
	case err != nil:
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	streamConfig.Subjects = mergeSubjects(info.Config.Subjects, streamConfig.Subjects)
	if _, err := js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

func mergeSubjects(existing, required []string) []string {
	merged := append([]string(nil), existing...)
	for _, s := range required {
		found := false
		for _, e := range existing {
			if e == s {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, s)
		}
	}
	return merged
}

// SubjectToken makes an investigation ID usable as a single subject token
func SubjectToken(id domain.InvestigationID) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, string(id))
}
