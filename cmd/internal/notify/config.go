package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Sink kinds selectable with KILN_NOTIFY_SINK.
const (
	SinkLog   = "log"
	SinkAMQP  = "amqp"
	SinkKafka = "kafka"
)

// Config selects and tunes the notification transport.
type Config struct {
	Sink    string        `env:"KILN_NOTIFY_SINK"    envDefault:"log"`
	Workers int           `env:"KILN_NOTIFY_WORKERS" envDefault:"4"`
	Queue   int           `env:"KILN_NOTIFY_QUEUE"   envDefault:"1024"`
	Timeout time.Duration `env:"KILN_NOTIFY_TIMEOUT" envDefault:"5s"`

	// LogCodes prints verification codes through the log sink (dev only).
	LogCodes bool `env:"KILN_NOTIFY_LOG_CODES" envDefault:"false"`

	AMQPURL      string `env:"KILN_AMQP_URL"`
	AMQPExchange string `env:"KILN_AMQP_EXCHANGE" envDefault:"kiln.events"`

	KafkaBrokers []string `env:"KILN_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KILN_KAFKA_TOPIC"   envDefault:"kiln.order-events"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		Sink:         SinkLog,
		Workers:      4,
		Queue:        1024,
		Timeout:      5 * time.Second,
		AMQPExchange: "kiln.events",
		KafkaTopic:   "kiln.order-events",
	}
}

// LoadConfig parses the KILN_NOTIFY_*, KILN_AMQP_* and KILN_KAFKA_* variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("notify: parse env: %w", err)
	}
	cfg.Sink = strings.ToLower(strings.TrimSpace(cfg.Sink))
	cfg.KafkaBrokers = trimCSV(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected sink has what it needs.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("notify: KILN_NOTIFY_WORKERS must be > 0")
	}
	if c.Queue <= 0 {
		return errors.New("notify: KILN_NOTIFY_QUEUE must be > 0")
	}
	if c.Timeout <= 0 {
		return errors.New("notify: KILN_NOTIFY_TIMEOUT must be > 0")
	}
	switch c.Sink {
	case SinkLog:
	case SinkAMQP:
		if strings.TrimSpace(c.AMQPURL) == "" {
			return errors.New("notify: KILN_AMQP_URL is required for the amqp sink")
		}
		if strings.TrimSpace(c.AMQPExchange) == "" {
			return errors.New("notify: KILN_AMQP_EXCHANGE must not be empty")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("notify: KILN_KAFKA_BROKERS is required for the kafka sink")
		}
		if strings.TrimSpace(c.KafkaTopic) == "" {
			return errors.New("notify: KILN_KAFKA_TOPIC must not be empty")
		}
	default:
		return fmt.Errorf("notify: unknown sink %q (use log, amqp or kafka)", c.Sink)
	}
	return nil
}

func trimCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
