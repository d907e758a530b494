package newsletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ewintr.nl/tubedigest/model"
	"golang.org/x/exp/slog"
)

type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message. A nil error means the provider accepted it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Newsletter renders a digest and hands it to a Sender.
type Newsletter struct {
	from   string
	to     []string
	sender Sender
	logger *slog.Logger
}

func New(from string, to []string, sender Sender, logger *slog.Logger) *Newsletter {
	return &Newsletter{
		from:   from,
		to:     to,
		sender: sender,
		logger: logger,
	}
}

func (n *Newsletter) Publish(ctx context.Context, date time.Time, entries []model.DigestEntry) error {
	rendered, err := Render(date, entries)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrDeliveryFailed, err)
	}

	if err := n.sender.Send(ctx, Message{
		From:    n.from,
		To:      n.to,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	}); err != nil {
		if errors.Is(err, model.ErrDeliveryFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", model.ErrDeliveryFailed, err)
	}
	n.logger.Info("sent newsletter", slog.String("subject", rendered.Subject), slog.Int("videos", len(entries)))

	return nil
}
