package transport

import (
	"context"

	"github.com/octue/twined-server/internal/config"
	"github.com/octue/twined-server/internal/transport/domain"
	"github.com/octue/twined-server/internal/transport/kafkatransport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the Kafka-backed transport.
var Module = fx.Module("transport",
	fx.Provide(newTransport),
)

func newTransport(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (domain.Transport, error) {
	t, err := kafkatransport.New(kafkatransport.Config{
		Brokers:      cfg.KafkaBrokers,
		WriteTimeout: cfg.KafkaWriteTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return t.Close()
		},
	})

	return t, nil
}
