package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	sds011 "github.com/hjkoskel/sds011sampler"
	"github.com/hjkoskel/sds011sampler/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink keys messages by sensor so one sensor stays in one partition
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

func (p *KafkaSink) Name() string {
	return "kafka"
}

func (p *KafkaSink) Record(ctx context.Context, r sds011.Reading) error {
	value, err := json.Marshal(NewPayload(r))
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.SensorID),
		Value: value,
		Time:  r.Timestamp,
	})
}

func (p *KafkaSink) Close() error {
	return p.writer.Close()
}
