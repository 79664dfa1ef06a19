package passage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/passage/adapters/events"
	"github.com/layer-3/passage/config"
	"github.com/redis/go-redis/v9"
)

// openBroker builds the Watermill publisher for revocation events and code
// dispatch. The redis broker owns its own client. The returned func releases it.
func openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (message.Publisher, func() error, error) {
	wmLogger := watermill.NewStdLogger(logger.Enabled(ctx, slog.LevelDebug), false)

	switch cfg.Broker.Driver {
	case "redis":
		if cfg.Broker.LogCodes {
			logger.Warn("broker.log_codes is ignored with the redis broker")
		}

		url := cfg.Broker.RedisURL
		if url == "" {
			url = cfg.Store.RedisURL
		}
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid broker redis url: %w", err)
		}
		client := redis.NewClient(opts)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		closeFn := func() error {
			err := publisher.Close()
			// The publisher may already have closed its client
			_ = client.Close()
			return err
		}
		return publisher, closeFn, nil

	default:
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		if cfg.Broker.LogCodes {
			logger.Warn("one-time codes are written to the log; do not enable outside development")
			if err := events.LogCodes(ctx, pubSub, logger); err != nil {
				_ = pubSub.Close()
				return nil, nil, err
			}
		}
		return pubSub, pubSub.Close, nil
	}
}
