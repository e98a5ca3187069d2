// Package pubsub implements a Google Cloud Pub/Sub sink for feeding
// records into downstream pipelines instead of a chat channel.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/scraper"
)

// Config controls the Pub/Sub sink.
type Config struct {
	ProjectID string
	TopicName string
}

// Sink publishes each record as a JSON message.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New connects to Pub/Sub and binds the topic.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("pubsub topic name is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Sink{
		client: client,
		topic:  client.Topic(cfg.TopicName),
		logger: logger,
	}, nil
}

// Send publishes the record and waits for server acknowledgement so the
// dispatcher's failure accounting sees real delivery results.
func (s *Sink) Send(ctx context.Context, rec scraper.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"source": rec.Source,
			"key":    rec.Key(),
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	s.logger.Debug("published record", zap.String("message_id", id), zap.String("key", rec.Key()))
	return nil
}

// Close stops the topic's publish goroutines and closes the client.
func (s *Sink) Close() error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
