package notify

import (
	"log/slog"
)

// OpenSink builds the transport selected by cfg. The returned close func releases broker
// connections and is never nil.
func OpenSink(cfg Config, log *slog.Logger) (Sink, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	nop := func() error { return nil }

	switch cfg.Sink {
	case SinkAMQP:
		s, err := DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case SinkKafka:
		s := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		return s, s.Close, nil
	default:
		return LogSink{Log: log, ShowCodes: cfg.LogCodes}, nop, nil
	}
}
