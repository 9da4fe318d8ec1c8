package extraction

import (
	"context"
	"time"

	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
)

// WithTimeout bounds every Extract call by d. A call that has not returned
// when the deadline passes yields Failure(TimeoutReason) even if the
// wrapped extractor ignores its context. A panic in the wrapped extractor
// becomes Failure(UnavailableReason).
func WithTimeout(next Extractor, d time.Duration) Extractor {
	return &timeoutExtractor{next: next, timeout: d}
}

type timeoutExtractor struct {
	next    Extractor
	timeout time.Duration
}

func (t *timeoutExtractor) Extract(ctx context.Context, in Input, tax *taxonomy.Taxonomy) Result {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log := logger.FromContext(ctx)
				log.Error().Interface("panic", r).Msg("Extractor panicked")
				done <- Failure(UnavailableReason)
			}
		}()
		done <- t.next.Extract(ctx, in, tax)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		log := logger.FromContext(ctx)
		log.Warn().Dur("timeout", t.timeout).Msg("Extraction timed out")
		return Failure(TimeoutReason)
	}
}
