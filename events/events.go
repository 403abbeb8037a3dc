// Package events connects the automation engine to a message bus: it consumes
// "meeting processed" messages, runs an engine pass for each and publishes the
// outcome.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/liamcoop/automations/rules"
)

const (
	// TopicMeetingProcessed carries MeetingProcessed payloads
	TopicMeetingProcessed = "meetings.processed"
	// TopicAutomationsExecuted carries AutomationsExecuted payloads
	TopicAutomationsExecuted = "automations.executed"

	// MeetingIDMetadataKey is set on every message this package publishes
	MeetingIDMetadataKey = "meeting_id"
)

// MeetingProcessed is published by the meeting pipeline once a recording is processed
type MeetingProcessed struct {
	MeetingID string               `json:"meeting_id"`
	RuleID    string               `json:"rule_id,omitempty"`
	Context   rules.MeetingContext `json:"context"`
}

// AutomationsExecuted reports the outcome of the engine pass for one meeting
type AutomationsExecuted struct {
	MeetingID  string                  `json:"meeting_id"`
	Outcome    *rules.ExecutionOutcome `json:"outcome"`
	ExecutedAt time.Time               `json:"executed_at"`
}

// Runner runs one automation pass; *rules.Engine satisfies it
type Runner interface {
	Run(ctx context.Context, mc rules.MeetingContext, ruleID string) (*rules.ExecutionOutcome, error)
}

var errMalformed = errors.New("malformed meeting event")

// Bridge consumes meeting events and publishes automation outcomes
type Bridge struct {
	runner     Runner
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	now        func() time.Time
}

// NewBridge creates a Bridge
func NewBridge(runner Runner, pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		runner:     runner,
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "events"),
		now:        time.Now,
	}
}

// NewGoChannel creates an in-process pub/sub usable as both publisher and subscriber
func NewGoChannel(logger *slog.Logger, persistent bool) *gochannel.GoChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     persistent,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
}

// PublishMeeting publishes a MeetingProcessed event
func PublishMeeting(pub message.Publisher, event MeetingProcessed) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode meeting event: %w", err)
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(MeetingIDMetadataKey, event.MeetingID)
	return pub.Publish(TopicMeetingProcessed, msg)
}

// Run consumes meeting events until ctx is done or the subscription closes.
// Malformed events are acked and dropped; failures to run the engine are
// nacked so the bus redelivers them.
func (b *Bridge) Run(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, TopicMeetingProcessed)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicMeetingProcessed, err)
	}

	b.logger.InfoContext(ctx, "consuming meeting events", "topic", TopicMeetingProcessed)
	for msg := range messages {
		err := b.handle(msg.Context(), msg)
		switch {
		case err == nil:
			msg.Ack()
		case errors.Is(err, errMalformed):
			b.logger.WarnContext(ctx, "dropping meeting event", "message_uuid", msg.UUID, "error", err)
			msg.Ack()
		default:
			b.logger.ErrorContext(ctx, "meeting event failed", "message_uuid", msg.UUID, "error", err)
			msg.Nack()
		}
	}
	return nil
}

func (b *Bridge) handle(ctx context.Context, msg *message.Message) error {
	var event MeetingProcessed
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	outcome, err := b.runner.Run(ctx, event.Context, event.RuleID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(AutomationsExecuted{
		MeetingID:  event.MeetingID,
		Outcome:    outcome,
		ExecutedAt: b.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	out := message.NewMessage(watermill.NewULID(), payload)
	out.Metadata.Set(MeetingIDMetadataKey, event.MeetingID)
	if err := b.publisher.Publish(TopicAutomationsExecuted, out); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	b.logger.DebugContext(ctx, "automations executed", "meeting_id", event.MeetingID,
		"triggered", len(outcome.TriggeredWorkflows))
	return nil
}
