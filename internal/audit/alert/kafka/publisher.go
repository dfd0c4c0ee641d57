// Package kafka streams suspicious audit events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mssola/useragent"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"auditlog/internal/audit"
)

// Config selects the brokers and topic.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher produces one record per suspicious event, keyed by source IP so
// alerts for one address stay ordered.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Alert is the record value.
type Alert struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType audit.EventType `json:"event_type"`
	Outcome   audit.Outcome   `json:"outcome"`
	UserEmail string          `json:"user_email,omitempty"`
	UserRole  string          `json:"user_role,omitempty"`
	IPAddress string          `json:"ip_address"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Method    string          `json:"method,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Client    ClientInfo      `json:"client"`
}

// ClientInfo is the parsed user agent.
type ClientInfo struct {
	UserAgent      string `json:"user_agent,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// New connects to the brokers. The topic is not created; call EnsureTopic.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Publisher{client: client, topic: cfg.Topic, logger: logger}, nil
}

// EnsureTopic creates the topic if it does not exist.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopic(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

// PublishSuspicious produces e synchronously.
func (p *Publisher) PublishSuspicious(ctx context.Context, e audit.Event) error {
	value, err := json.Marshal(NewAlert(e))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.IPAddress),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(e.EventType)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce alert %d: %w", e.ID, err)
	}
	p.logger.DebugContext(ctx, "suspicious alert published", "audit_id", e.ID, "topic", p.topic)
	return nil
}

// Close flushes pending records and closes the client.
func (p *Publisher) Close(ctx context.Context) {
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka flush on close failed", "error", err)
	}
	p.client.Close()
}

// NewAlert builds the record value for e.
func NewAlert(e audit.Event) Alert {
	return Alert{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		EventType: e.EventType,
		Outcome:   e.Outcome,
		UserEmail: e.UserEmail,
		UserRole:  e.UserRole,
		IPAddress: e.IPAddress,
		Endpoint:  e.Endpoint,
		Method:    e.Method,
		Metadata:  e.Metadata,
		Client:    parseUserAgent(e.UserAgent),
	}
}

func parseUserAgent(raw string) ClientInfo {
	if raw == "" {
		return ClientInfo{}
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	return ClientInfo{
		UserAgent:      raw,
		Browser:        name,
		BrowserVersion: version,
		OS:             ua.OS(),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
}

var _ audit.AlertPublisher = (*Publisher)(nil)
