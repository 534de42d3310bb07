package assist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app/task"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Recognizer is one speech-to-text run. It calls emit with the running
// transcript and returns on end of stream or error.
type Recognizer interface {
	Recognize(ctx context.Context, emit func(text string)) error
}

// Transcriber keeps a recognizer running while enabled, restarting it every
// time it stops, and publishes each new text as a transcript-fragment.
type Transcriber struct {
	rec   Recognizer
	delay time.Duration

	mu      sync.Mutex
	channel core.SignalingChannel
	room    domain.RoomID
	self    domain.Participant
	last    string
	runs    int
	handle  *task.Periodic
}

func NewTranscriber(rec Recognizer, channel core.SignalingChannel, restartDelay time.Duration) *Transcriber {
	if restartDelay <= 0 {
		restartDelay = 500 * time.Millisecond
	}
	return &Transcriber{rec: rec, channel: channel, delay: restartDelay}
}

// Start enables recognition for self in room. Calling it while running is a
// no-op.
func (t *Transcriber) Start(ctx context.Context, room domain.RoomID, self domain.Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle != nil {
		return
	}
	t.room, t.self, t.last = room, self, ""
	t.handle = task.Go(context.WithoutCancel(ctx), "assist.transcribe", t.delay, t.run)
	log.Info().Str("module", "assist").Str("room", string(room)).Msg("transcription on")
}

// Stop disables recognition and waits for the current run to return.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	h := t.handle
	t.handle = nil
	t.mu.Unlock()
	if h != nil {
		h.Stop()
		log.Info().Str("module", "assist").Msg("transcription off")
	}
}

func (t *Transcriber) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle != nil
}

// Rebind switches the channel fragments are published on.
func (t *Transcriber) Rebind(channel core.SignalingChannel, self domain.PeerID) {
	t.mu.Lock()
	t.channel = channel
	t.self.PeerID = self
	t.mu.Unlock()
}

func (t *Transcriber) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func (t *Transcriber) run(ctx context.Context) {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()

	err := t.rec.Recognize(ctx, func(text string) { t.publish(ctx, text) })
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(fmt.Errorf("%w: %v", domain.ErrTranscriptService, err)).Str("module", "assist").Dur("retry_in", t.delay).Msg("recognizer stopped")
	}
}

func (t *Transcriber) publish(ctx context.Context, text string) {
	if text == "" || ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	if text == t.last {
		t.mu.Unlock()
		return
	}
	t.last = text
	room, self, channel := t.room, t.self, t.channel
	t.mu.Unlock()

	frag := domain.TranscriptFragment{ParticipantID: self.ID, Username: self.Name, Text: text}
	msg, err := protocol.New(protocol.TypeTranscriptFragment, room, self.PeerID, "", frag)
	if err != nil {
		return
	}
	if err := channel.Emit(ctx, msg); err != nil {
		log.Debug().Err(err).Str("module", "assist").Msg("transcript not delivered")
	}
}
