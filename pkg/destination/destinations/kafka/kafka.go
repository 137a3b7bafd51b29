// Package kafka publishes each payload to a Kafka topic with a
// synchronous producer, so a failed broker write is reported on the
// attempt that caused it rather than on a later flush.
package kafka

import (
	"context"

	"github.com/IBM/sarama"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("kafka", "publishes each payload to a Kafka topic", New)
}

// Destination delivers payloads to Kafka.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured Kafka destination.
func New() core.Destination {
	return &Destination{Destination: base.New("kafka")}
}

// Configure connects the producer.
//
// Options: brokers (required, list or single address), topic (required,
// template-expanded per payload), key (message key, template-expanded,
// default none), compression ("none", "gzip", "snappy", "lz4", "zstd",
// default "snappy").
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	brokers := cfg.Options.Strings("brokers")
	if len(brokers) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "missing required field %q", "brokers").
			WithDetail("field", "brokers")
	}
	topic, err := cfg.Options.RequiredString("topic")
	if err != nil {
		return err
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Timeout = cfg.SendTimeout()
	saramaCfg.Net.DialTimeout = cfg.SendTimeout()

	switch comp := cfg.Options.String("compression", "snappy"); comp {
	case "none":
		saramaCfg.Producer.Compression = sarama.CompressionNone
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaCfg.Producer.Compression = sarama.CompressionZSTD
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown compression %q", comp)
	}

	producer, err := sarama.NewSyncProducer(brokers, saramaCfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to create kafka producer").
			WithDetail("brokers", brokers)
	}

	sender := &producerSender{
		producer: producer,
		topic:    topic,
		key:      cfg.Options.String("key", ""),
	}
	return d.Bind(cfg, sender, producer.Close)
}

type producerSender struct {
	producer sarama.SyncProducer
	topic    string
	key      string
}

func (s *producerSender) Send(_ context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}

	msg := &sarama.ProducerMessage{
		Topic: base.ExpandTemplate(s.topic, p),
		Value: sarama.ByteEncoder(body),
	}
	if s.key != "" {
		msg.Key = sarama.StringEncoder(base.ExpandTemplate(s.key, p))
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "kafka produce failed")
	}
	return nil
}
