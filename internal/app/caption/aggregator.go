// Package caption merges the relay's transcript snapshots into one live view
// holding the latest line of every speaker.
package caption

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Aggregator keeps one fragment per speaker key. A newly received fragment
// always replaces the previous one for its key, regardless of timestamps.
type Aggregator struct {
	now func() time.Time

	mu    sync.Mutex
	byKey map[string]domain.TranscriptFragment
}

func New() *Aggregator {
	return &Aggregator{
		now:   time.Now,
		byKey: make(map[string]domain.TranscriptFragment),
	}
}

// Merge folds a snapshot into the view and returns the view sorted by
// timestamp, oldest first. Fragments without a timestamp get the receipt
// time, unless they repeat the text already held for their key.
func (a *Aggregator) Merge(fragments []domain.TranscriptFragment) []domain.TranscriptFragment {
	received := a.now().UTC()

	a.mu.Lock()
	for _, f := range fragments {
		key := f.Key()
		if key == "" {
			continue
		}
		if f.Timestamp.IsZero() {
			if prev, ok := a.byKey[key]; ok && prev.Text == f.Text {
				f.Timestamp = prev.Timestamp
			} else {
				f.Timestamp = received
			}
		}
		a.byKey[key] = f
	}
	view := a.viewLocked()
	a.mu.Unlock()

	log.Debug().Str("module", "caption").Int("in", len(fragments)).Int("speakers", len(view)).Msg("snapshot merged")
	return view
}

// Apply decodes a caption-snapshot frame and merges it.
func (a *Aggregator) Apply(msg protocol.Message) ([]domain.TranscriptFragment, error) {
	var p protocol.CaptionSnapshot
	if err := msg.Decode(&p); err != nil {
		return nil, err
	}
	return a.Merge(p.Fragments), nil
}

// View is the current sorted view.
func (a *Aggregator) View() []domain.TranscriptFragment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

// Forget drops the line of a speaker who left.
func (a *Aggregator) Forget(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.byKey[key]
	delete(a.byKey, key)
	return ok
}

func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.byKey = make(map[string]domain.TranscriptFragment)
	a.mu.Unlock()
}

func (a *Aggregator) viewLocked() []domain.TranscriptFragment {
	view := lo.Values(a.byKey)
	sort.Slice(view, func(i, j int) bool {
		if !view[i].Timestamp.Equal(view[j].Timestamp) {
			return view[i].Timestamp.Before(view[j].Timestamp)
		}
		if view[i].Username != view[j].Username {
			return view[i].Username < view[j].Username
		}
		return view[i].Key() < view[j].Key()
	})
	return view
}
