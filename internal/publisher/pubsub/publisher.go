// Package pubsub announces publish-ready runs on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// Config names the project and default topic.
type Config struct {
	ProjectID string
	TopicName string
}

// Publisher wraps a Pub/Sub client and caches topic handles.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	topics       map[string]*pubsub.Topic
}

// New connects to Pub/Sub.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("pubsub.topic_name is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{
		client:       client,
		defaultTopic: cfg.TopicName,
		topics:       make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals payload to JSON and waits for the server-assigned ID.
// An empty topic selects the configured default.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	t, ok := p.topics[topic]
	if !ok {
		t = p.client.Topic(topic)
		p.topics[topic] = t
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: Attributes(payload),
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	for _, t := range p.topics {
		t.Stop()
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// Attributes lets subscribers filter on run metadata without decoding the body.
func Attributes(payload any) map[string]string {
	summary, ok := payload.(polla.RunSummary)
	if !ok {
		return nil
	}
	return map[string]string{
		"run_id":      summary.RunID,
		"decision":    string(summary.Decision.Status),
		"api_version": summary.APIVersion,
	}
}
