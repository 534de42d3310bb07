// Package assist wraps the optional AI helpers of a call: reply suggestions
// and continuous speech-to-text. Neither can end a session when it fails.
package assist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const MaxSuggestions = 3

// Suggester is the remote reply-suggestion engine.
type Suggester interface {
	Suggest(ctx context.Context, text string) ([]string, error)
}

type Suggestions struct {
	engine  Suggester
	timeout time.Duration
}

func NewSuggestions(engine Suggester, timeout time.Duration) *Suggestions {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Suggestions{engine: engine, timeout: timeout}
}

// For returns up to three short replies to text. Any engine failure yields
// an empty list.
func (s *Suggestions) For(ctx context.Context, text string) []string {
	text = strings.TrimSpace(text)
	if s == nil || s.engine == nil || text == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.engine.Suggest(ctx, text)
	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %v", domain.ErrSuggestionService, err)).Str("module", "assist").Msg("suggestions unavailable")
		return nil
	}
	out = lo.Uniq(lo.FilterMap(out, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}))
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}
