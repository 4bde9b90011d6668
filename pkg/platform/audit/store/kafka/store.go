// Package kafka ships audit events to a Kafka topic. Records are keyed by
// certificate hash so every event for one credential lands on one partition
// in order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "certledger/pkg/platform/audit"
)

const DefaultTopic = "certledger.audit"

type Store struct {
	client *kgo.Client
	topic  string
}

// payload is the JSON value of each record.
type payload struct {
	ID              string `json:"id"`
	Category        string `json:"category"`
	Timestamp       string `json:"timestamp"`
	Action          string `json:"action"`
	CertificateHash string `json:"certificate_hash,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
	Decision        string `json:"decision,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
	ClientIP        string `json:"client_ip,omitempty"`
	Client          string `json:"client,omitempty"`
}

// New connects a producer. Extra opts are appended to the defaults.
func New(brokers []string, topic string, opts ...kgo.Opt) (*Store, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka audit store needs at least one broker")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("certledger"),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Store{client: client, topic: topic}, nil
}

func (s *Store) Topic() string {
	return s.topic
}

// EnsureTopic creates the audit topic if the cluster does not have it yet.
func (s *Store) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	value, err := json.Marshal(payload{
		ID:              event.ID,
		Category:        string(category),
		Timestamp:       event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:          event.Action,
		CertificateHash: event.CertificateHash,
		TxHash:          event.TxHash,
		ActorID:         event.ActorID,
		Decision:        event.Decision,
		Reason:          event.Reason,
		RequestID:       event.RequestID,
		ClientIP:        event.ClientIP,
		Client:          event.Client,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.CertificateHash),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(category)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.client.Close()
}

var _ audit.Store = (*Store)(nil)
