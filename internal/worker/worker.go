// Package worker drains the attendance event queue.
package worker

import (
	"context"

	"github.com/rs/zerolog"

	"classattend/internal/queue"
)

// Applier handles one message. *tally.Tally satisfies it.
type Applier interface {
	Apply(ctx context.Context, msg queue.Message) error
}

// Run consumes q until ctx is done or the queue closes. Failed messages are
// logged and skipped. It returns the number of messages applied.
func Run(ctx context.Context, q queue.Queue, a Applier, logger zerolog.Logger) (int, error) {
	messages, err := q.Consume(ctx)
	if err != nil {
		return 0, err
	}
	log := logger.With().Str("component", "worker").Logger()
	log.Info().Msg("worker started, waiting for messages")

	applied := 0
	for msg := range messages {
		if err := a.Apply(ctx, msg); err != nil {
			log.Warn().Err(err).Str("type", msg.Type).Msg("message failed")
			continue
		}
		applied++
		log.Debug().Str("type", msg.Type).Msg("message applied")
	}
	log.Info().Int("applied", applied).Msg("worker stopped")
	return applied, nil
}
