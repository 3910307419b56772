// Package notification hands customer-facing messages to the delivery
// collaborator. Delivery is fire-and-forget from the caller's perspective.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"winetours/internal/logging"
)

type Status string

const (
	StatusQueued Status = "queued"
	StatusFailed Status = "failed"
)

const (
	TemplateProposalAccepted = "proposal.accepted"
	TemplateDepositInvoice   = "invoice.deposit"
	TemplateFinalInvoice     = "invoice.final"
	TemplateBookingCancelled = "booking.cancelled"
)

var ErrNoRecipient = errors.New("notification has no recipient")

type Message struct {
	To         string         `json:"to"`
	TemplateID string         `json:"template_id"`
	Payload    map[string]any `json:"payload"`
}

type Dispatcher interface {
	Send(ctx context.Context, msg Message) (Status, error)
}

// Fire sends msg and logs any failure. It never returns an error so that a
// delivery problem cannot undo a committed money transition.
func Fire(ctx context.Context, d Dispatcher, log logrus.FieldLogger, msg Message) Status {
	if d == nil {
		return StatusFailed
	}
	status, err := d.Send(ctx, msg)
	if err != nil {
		logging.LogError(log, "notification", "Fire", msg.TemplateID, map[string]string{"to": msg.To}, err)
		return StatusFailed
	}
	return status
}

// LogDispatcher writes messages to the log. Used when no transport is configured.
type LogDispatcher struct {
	log logrus.FieldLogger
}

func NewLogDispatcher(log logrus.FieldLogger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(_ context.Context, msg Message) (Status, error) {
	if msg.To == "" {
		return StatusFailed, ErrNoRecipient
	}
	d.log.WithFields(logrus.Fields{
		"to":          msg.To,
		"template_id": msg.TemplateID,
		"payload":     msg.Payload,
	}).Info("notification queued")
	return StatusQueued, nil
}

// PubSubDispatcher publishes messages to the topic the mailer consumes.
type PubSubDispatcher struct {
	topic   *pubsub.Topic
	timeout time.Duration
}

func NewPubSubDispatcher(topic *pubsub.Topic) *PubSubDispatcher {
	return &PubSubDispatcher{topic: topic, timeout: 10 * time.Second}
}

// DialPubSub opens a client for projectID and returns the dispatcher for topicID.
func DialPubSub(ctx context.Context, projectID, topicID, credentialsJSON string) (*PubSubDispatcher, *pubsub.Client, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewPubSubDispatcher(client.Topic(topicID)), client, nil
}

func (d *PubSubDispatcher) Send(ctx context.Context, msg Message) (Status, error) {
	if msg.To == "" {
		return StatusFailed, ErrNoRecipient
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return StatusFailed, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"template_id": msg.TemplateID},
	})
	if _, err := result.Get(ctx); err != nil {
		return StatusFailed, err
	}
	return StatusQueued, nil
}
