package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"
)

// KafkaSink publishes events to a Kafka topic, keyed by event name so
// consumers see per-event-type ordering. Publishing is rate limited to keep a
// burst of flow activity from monopolizing the broker connection.
type KafkaSink struct {
	writer  *kafka.Writer
	limiter *rate.Limiter
}

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers" mapstructure:"brokers"`
	Topic         string   `yaml:"topic" mapstructure:"topic"`
	PublishPerSec int      `yaml:"publish_per_sec" mapstructure:"publish_per_sec"`
}

// NewKafkaSink creates a sink writing to the configured brokers and topic.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	perSec := cfg.PublishPerSec
	if perSec <= 0 {
		perSec = 100
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 5 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

func (s *KafkaSink) Publish(ctx context.Context, name string, payload any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "events: rate limit wait")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "events: marshal %s", name)
	}

	msg := kafka.Message{
		Key:   []byte(name),
		Value: data,
		Time:  time.Now().UTC(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return eris.Wrapf(err, "events: write %s", name)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
