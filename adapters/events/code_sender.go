package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

// CodeDispatch asks the mail worker to deliver a one-time code
type CodeDispatch struct {
	Address string       `json:"address"`
	Code    string       `json:"code"`
	Purpose core.Purpose `json:"purpose"`
}

// WatermillCodeSender implements the CodeSender interface by handing codes to
// a mail worker through Watermill
type WatermillCodeSender struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillCodeSender creates a code sender publishing on TopicCodes
func NewWatermillCodeSender(publisher message.Publisher) ports.CodeSender {
	return &WatermillCodeSender{
		publisher: publisher,
		topic:     TopicCodes,
	}
}

// SendCode publishes the dispatch. Failure maps to core.ErrDeliveryFailed.
func (s *WatermillCodeSender) SendCode(ctx context.Context, address, code string, purpose core.Purpose) error {
	dispatch := CodeDispatch{
		Address: address,
		Code:    code,
		Purpose: purpose,
	}
	if err := publishJSON(ctx, s.publisher, s.topic, uuid.NewString(), dispatch); err != nil {
		return fmt.Errorf("%w: %w", core.ErrDeliveryFailed, err)
	}
	return nil
}
