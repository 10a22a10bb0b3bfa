package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/checkout-engine/internal/platform/textutil"
	"github.com/hanko-field/checkout-engine/internal/services"
)

// PubSubEventPublisher publishes checkout events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.EventPublisher = (*PubSubEventPublisher)(nil)

// NewPubSubEventPublisher constructs a Pub/Sub backed checkout event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCheckoutEvent enqueues event, ordered per payment so consumers see a payment's events in sequence.
func (p *PubSubEventPublisher) PublishCheckoutEvent(ctx context.Context, event services.CheckoutEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}

	attrs := textutil.CompactStringMap(map[string]string{
		"type":      event.Type,
		"paymentId": event.PaymentID,
		"orderId":   event.OrderID,
		"status":    event.Status,
	})

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.PaymentID)
	}

	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish checkout event: %w", err)
	}
	return nil
}

// OTPMessage is the SMS worker payload for a wallet OTP.
type OTPMessage struct {
	Mobile    string    `json:"mobile"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PubSubOTPSender hands wallet OTPs to the SMS worker through Pub/Sub.
type PubSubOTPSender struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOTPSender constructs an OTP sender publishing to topic.
func NewPubSubOTPSender(topic *pubsub.Topic) (*PubSubOTPSender, error) {
	if topic == nil {
		return nil, errors.New("pubsub otp sender: topic is required")
	}
	return &PubSubOTPSender{topic: topic, marshal: json.Marshal}, nil
}

// SendOTP publishes the code and waits for the broker acknowledgement.
func (s *PubSubOTPSender) SendOTP(ctx context.Context, mobile, code string, expiresAt time.Time) error {
	if s == nil || s.topic == nil {
		return errors.New("pubsub otp sender: not initialised")
	}
	data, err := s.marshal(OTPMessage{Mobile: mobile, Code: code, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("marshal otp message: %w", err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": "wallet.otp"},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish otp message: %w", err)
	}
	return nil
}
