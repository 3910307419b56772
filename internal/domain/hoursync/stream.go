package hoursync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"winetours/internal/apperr"
	"winetours/internal/logging"
)

const eventField = "event"

// StreamPublisher appends clock-out events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
}

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev ClockOutEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{eventField: string(payload)},
	}).Err()
}

// StreamConsumer reads clock-out events through a consumer group. A message
// is acknowledged once reconciled, or when it can never succeed; anything
// else stays pending and is retried every retryEvery. Messages another
// consumer left idle for claimIdle are claimed and retried here.
type StreamConsumer struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	reconciler *Reconciler
	log        logrus.FieldLogger
	block      time.Duration
	retryEvery time.Duration
	claimIdle  time.Duration
}

const streamBatch = 20

func NewStreamConsumer(client *redis.Client, stream, group, consumer string, reconciler *Reconciler, log logrus.FieldLogger) *StreamConsumer {
	return &StreamConsumer{
		client:     client,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		reconciler: reconciler,
		log:        log,
		block:      5 * time.Second,
		retryEvery: 30 * time.Second,
		claimIdle:  time.Minute,
	}
}

// EnsureGroup creates the stream and group if they do not exist.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run consumes until ctx is done, retrying pending messages at start and
// then every retryEvery.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.retry(ctx)
	ticker := time.NewTicker(c.retryEvery)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ticker.C:
			c.retry(ctx)
		default:
		}
		if _, err := c.Poll(ctx, ">"); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.LogError(c.log, "hoursync", "Run", "reading clock-out stream failed", c.stream, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *StreamConsumer) retry(ctx context.Context) {
	if _, err := c.RetryPending(ctx); err != nil && ctx.Err() == nil {
		logging.LogError(c.log, "hoursync", "Run", "retrying pending clock-outs failed", c.stream, err)
	}
}

// Poll reads one batch starting at id (">" for new messages, "0" for this
// consumer's pending ones) and returns how many were acknowledged.
func (c *StreamConsumer) Poll(ctx context.Context, id string) (int, error) {
	acked, _, err := c.poll(ctx, id)
	return acked, err
}

// RetryPending walks this consumer's whole pending list once, then claims
// messages other consumers left idle. It returns how many were acknowledged.
func (c *StreamConsumer) RetryPending(ctx context.Context) (int, error) {
	total := 0
	id := "0"
	for {
		acked, last, err := c.poll(ctx, id)
		total += acked
		if err != nil {
			return total, err
		}
		if last == "" {
			break
		}
		id = last
	}

	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimIdle,
			Start:    start,
			Count:    streamBatch,
		}).Result()
		if err != nil {
			return total, err
		}
		acked, err := c.process(ctx, msgs)
		total += acked
		if err != nil {
			return total, err
		}
		if next == "" || next == "0-0" {
			return total, nil
		}
		start = next
	}
}

// poll also returns the last message id it saw, empty when the batch was
// empty.
func (c *StreamConsumer) poll(ctx context.Context, id string) (int, string, error) {
	block := c.block
	if id != ">" {
		block = -1
	}
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    streamBatch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}

	acked, last := 0, ""
	for _, s := range streams {
		n, err := c.process(ctx, s.Messages)
		acked += n
		if err != nil {
			return acked, last, err
		}
		if len(s.Messages) > 0 {
			last = s.Messages[len(s.Messages)-1].ID
		}
	}
	return acked, last, nil
}

func (c *StreamConsumer) process(ctx context.Context, msgs []redis.XMessage) (int, error) {
	acked := 0
	for _, msg := range msgs {
		if !c.handle(ctx, msg) {
			continue
		}
		if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
			return acked, err
		}
		acked++
	}
	return acked, nil
}

// handle reports whether msg should be acknowledged.
func (c *StreamConsumer) handle(ctx context.Context, msg redis.XMessage) bool {
	raw, _ := msg.Values[eventField].(string)
	var ev ClockOutEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		logging.LogError(c.log, "hoursync", "handle", "dropping undecodable clock-out", msg.ID, err)
		return true
	}
	_, err := c.reconciler.Reconcile(ctx, ev)
	switch {
	case err == nil:
		return true
	case apperr.IsValidation(err), apperr.IsNotFound(err):
		logging.LogError(c.log, "hoursync", "handle", "dropping clock-out that cannot apply", msg.ID, err)
		return true
	default:
		logging.LogError(c.log, "hoursync", "handle", "clock-out left pending", msg.ID, err)
		return false
	}
}
