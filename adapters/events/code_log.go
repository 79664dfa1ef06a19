package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// LogCodes subscribes to TopicCodes and logs every dispatched code. It stands
// in for the mail worker during local development and returns once the
// subscription is established; consumption ends with ctx.
func LogCodes(ctx context.Context, subscriber message.Subscriber, logger *slog.Logger) error {
	messages, err := subscriber.Subscribe(ctx, TopicCodes)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicCodes, err)
	}

	go func() {
		for msg := range messages {
			var dispatch CodeDispatch
			if err := json.Unmarshal(msg.Payload, &dispatch); err != nil {
				logger.Warn("malformed code dispatch", "message_id", msg.UUID, slog.Any("error", err))
				msg.Ack()
				continue
			}
			logger.Info("code dispatched",
				"address", dispatch.Address,
				"purpose", string(dispatch.Purpose),
				"code", dispatch.Code,
			)
			msg.Ack()
		}
	}()
	return nil
}
