package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/pkg/logging"
)

const (
	EventTypeDenied = "rate_limit.denied"
	EventTypeAdmin  = "rate_limit.admin"
)

// KafkaPublisherConfig represents Kafka publisher configuration
type KafkaPublisherConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	ClientID     string        `mapstructure:"client_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// DefaultKafkaPublisherConfig returns production defaults
func DefaultKafkaPublisherConfig() KafkaPublisherConfig {
	return KafkaPublisherConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "rate-limit-events",
		ClientID:     "ratelimit-service",
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		MaxRetries:   3,
	}
}

// denyEvent is the wire shape for a deny published to the event stream
type denyEvent struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	Timestamp        time.Time `json:"timestamp"`
	Reason           string    `json:"reason"`
	ViolatedScope    string    `json:"violated_scope"`
	EndpointCategory string    `json:"endpoint_category"`
	IP               string    `json:"ip"`
	UserID           string    `json:"user_id,omitempty"`
	TenantID         string    `json:"tenant_id,omitempty"`
	Tier             string    `json:"tier"`
	Limit            int       `json:"limit"`
	RetryAfter       int       `json:"retry_after_seconds"`
	Degraded         bool      `json:"degraded,omitempty"`
}

// adminEvent is the wire shape for an administrative mutation
type adminEvent struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Timestamp      time.Time              `json:"timestamp"`
	Actor          string                 `json:"actor"`
	Action         string                 `json:"action"`
	TargetIdentity string                 `json:"target_identity"`
	Category       string                 `json:"category,omitempty"`
	SourceIP       string                 `json:"source_ip,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// KafkaPublisher publishes rate-limit events to the platform event
// stream. Writes are asynchronous so a slow broker never holds up an
// admission decision; delivery failures are logged and dropped.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logging.Logger
}

// NewKafkaPublisher creates a new Kafka event publisher
func NewKafkaPublisher(config KafkaPublisherConfig, logger *logging.Logger) *KafkaPublisher {
	log := logger.WithComponent("kafka_publisher")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Transport:    &kafka.Transport{ClientID: config.ClientID},
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  config.MaxRetries,
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("Event delivery failed",
					zap.Int("messages", len(messages)),
					zap.Error(err))
			}
		},
	}

	log.Info("Kafka publisher initialized",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic))

	return &KafkaPublisher{
		writer: writer,
		logger: log,
	}
}

// PublishDenyEvent emits a denied-request event
func (p *KafkaPublisher) PublishDenyEvent(ctx context.Context, caller entity.CallerContext, decision entity.Decision, endpointCategory string) {
	event := denyEvent{
		ID:               uuid.New().String(),
		Type:             EventTypeDenied,
		Timestamp:        time.Now().UTC(),
		Reason:           decision.ReasonCode(),
		ViolatedScope:    string(decision.ViolatedScope),
		EndpointCategory: endpointCategory,
		IP:               caller.IP,
		UserID:           caller.UserID,
		TenantID:         caller.TenantID,
		Tier:             string(caller.Tier),
		Limit:            decision.Limit,
		RetryAfter:       decision.RetryAfterSeconds,
		Degraded:         decision.Degraded,
	}
	p.publish(ctx, event.ID, event)
}

// PublishAdminEvent emits an administrative mutation event
func (p *KafkaPublisher) PublishAdminEvent(ctx context.Context, record *entity.AuditRecord) {
	event := adminEvent{
		ID:             record.ID,
		Type:           EventTypeAdmin,
		Timestamp:      record.CreatedAt,
		Actor:          record.Actor,
		Action:         record.Action,
		TargetIdentity: record.TargetIdentity,
		Category:       record.Category,
		SourceIP:       record.SourceIP,
		Details:        record.Details,
	}
	p.publish(ctx, event.ID, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, key string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		// async writer only fails here on context or queue errors
		p.logger.Warn("Failed to enqueue event", zap.Error(err))
	}
}

// Close flushes pending messages and releases the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards all events. Used when the event stream is not
// configured.
type NopPublisher struct{}

// NewNopPublisher creates a publisher that drops everything
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (NopPublisher) PublishDenyEvent(context.Context, entity.CallerContext, entity.Decision, string) {
}

func (NopPublisher) PublishAdminEvent(context.Context, *entity.AuditRecord) {}

// Close implements EventPublisher
func (NopPublisher) Close() error { return nil }
