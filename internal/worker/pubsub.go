package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

// Job types accepted on the refresh subscription.
const (
	JobRefreshAll = "refresh_all"
	JobRefetch    = "refetch"
)

var (
	// ErrUnknownJob is returned for messages with an unsupported job type.
	ErrUnknownJob = errors.New("unknown job type")
	// ErrInvalidMessage is returned for messages that cannot be decoded or lack required fields.
	ErrInvalidMessage = errors.New("invalid refresh message")
)

// RefreshMessage represents a refresh job message.
type RefreshMessage struct {
	JobType string `json:"job_type"`
	// Key is the dashboard key of a refetch job.
	Key string `json:"key,omitempty"`
	// Kinds narrows a refresh_all job to the given key kinds.
	Kinds []string `json:"kinds,omitempty"`
}

// Leaser subscribes a key that may not be watched yet.
type Leaser interface {
	Touch(key query.Key) (*query.Subscription, error)
}

// Dispatcher runs refresh jobs described by messages.
type Dispatcher struct {
	job    *RefreshJob
	leaser Leaser
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher. leaser may be nil, in which case refetch
// jobs only apply to keys that are already subscribed.
func NewDispatcher(job *RefreshJob, leaser Leaser, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, leaser: leaser, logger: logger}
}

// Dispatch decodes data and runs the job it describes.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.JobType {
	case JobRefreshAll:
		return d.refreshAll(ctx, msg)
	case JobRefetch:
		return d.refetch(ctx, msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) refreshAll(ctx context.Context, msg RefreshMessage) error {
	kinds := d.job.config.Kinds
	if len(msg.Kinds) > 0 {
		kinds = msg.Kinds
	}

	result := d.job.RunKinds(ctx, kinds)

	// Consider it successful if more than half succeeded.
	if result.Failed > result.Successful {
		return fmt.Errorf("too many refresh failures: %d/%d", result.Failed, result.TotalKeys)
	}
	return nil
}

func (d *Dispatcher) refetch(ctx context.Context, msg RefreshMessage) error {
	key, err := dashboard.ParseKey(msg.Key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if d.leaser != nil {
		if _, err := d.leaser.Touch(key); err != nil {
			return fmt.Errorf("leasing %s: %w", key, err)
		}
	}

	result := d.job.RefreshKeys(ctx, []query.Key{key})
	if result.Failed > 0 {
		return fmt.Errorf("refetching %s: %s", key, result.Errors[0].Error)
	}
	return nil
}

// PubSubHandler feeds Pub/Sub messages to a Dispatcher.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start processes Pub/Sub messages until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if Settle(ctx, h.dispatcher, h.logger, msg.ID, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// Settle dispatches one message and reports whether it should be acknowledged.
// Malformed and unknown messages are acknowledged to prevent redelivery.
func Settle(ctx context.Context, d *Dispatcher, logger zerolog.Logger, id string, data []byte) bool {
	startTime := time.Now()
	logger = logger.With().Str("message_id", id).Logger()

	err := d.Dispatch(ctx, data)
	switch {
	case err == nil:
		logger.Info().Dur("duration", time.Since(startTime)).Msg("job completed successfully")
		return true
	case errors.Is(err, ErrUnknownJob), errors.Is(err, ErrInvalidMessage):
		logger.Warn().Err(err).Msg("dropping refresh message")
		return true
	default:
		logger.Error().Err(err).Msg("job failed")
		return false
	}
}
