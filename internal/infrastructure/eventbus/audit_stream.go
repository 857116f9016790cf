package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const AuditTopic = "audit_log"

type auditStream struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	lock   *sync.Mutex
	closed bool
}

func NewAuditStream(publisher message.Publisher, subscriber message.Subscriber) ports.AuditStream {
	return &auditStream{
		publisher:  publisher,
		subscriber: subscriber,
		lock:       &sync.Mutex{},
	}
}

// NewInMemoryAuditStream fans entries out through an in-process go channel pubsub.
// Entries published while nobody is subscribed are dropped.
func NewInMemoryAuditStream(bufferSize int64) ports.AuditStream {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: bufferSize,
	}, watermill.NopLogger{})
	return NewAuditStream(pubsub, pubsub)
}

func (s *auditStream) Publish(_ context.Context, entry domain.AuditLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(entry.EventType))
	return s.publisher.Publish(AuditTopic, msg)
}

func (s *auditStream) Subscribe(ctx context.Context) (<-chan domain.AuditLog, error) {
	messages, err := s.subscriber.Subscribe(ctx, AuditTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to audit stream: %w", err)
	}

	ch := make(chan domain.AuditLog)
	go func() {
		defer close(ch)
		for msg := range messages {
			var entry domain.AuditLog
			if err := json.Unmarshal(msg.Payload, &entry); err != nil {
				log.WithError(err).Warnf("failed to decode audit message %s", msg.UUID)
				msg.Ack()
				continue
			}
			select {
			case ch <- entry:
				msg.Ack()
			case <-ctx.Done():
				msg.Ack()
				// drain until the subscriber closes the channel.
				for msg := range messages {
					msg.Ack()
				}
				return
			}
		}
	}()
	return ch, nil
}

func (s *auditStream) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.publisher.Close(); err != nil {
		return err
	}
	return s.subscriber.Close()
}
