package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewParticipant(t *testing.T) {
	req := require.New(t)

	p, err := NewParticipant("", "peer-1", "  Alice ", "")
	req.NoError(err)
	req.Equal("Alice", p.Name)
	req.Equal(ParticipantID("peer-1"), p.ID)
	req.True(p.MicOn)
	req.True(p.VideoOn)

	_, err = NewParticipant("u", "", "Alice", "")
	req.ErrorIs(err, ErrPeerIDInvalid)
	_, err = NewParticipant("u", "p", "   ", "")
	req.ErrorIs(err, ErrDisplayNameEmpty)
	_, err = NewParticipant("u", "p", strings.Repeat("a", MaxDisplayNameLen+1), "")
	req.ErrorIs(err, ErrDisplayNameTooLong)
}

func TestCaptionKeys(t *testing.T) {
	req := require.New(t)

	req.Equal("u1", Participant{ID: "u1", Name: "alice"}.CaptionKey())
	req.Equal("alice", Participant{Name: "alice"}.CaptionKey())

	// A participant and their fragments meet under the same key
	f := TranscriptFragment{ParticipantID: "u1", Username: "alice", Text: "hi", Timestamp: time.Now()}
	req.Equal(Participant{ID: "u1", Name: "alice"}.CaptionKey(), f.Key())
	req.Equal("u1", TranscriptFragment{ParticipantID: "u1"}.Key())

	// Two speakers sharing a display name keep separate keys
	g := TranscriptFragment{ParticipantID: "u2", Username: "alice"}
	req.NotEqual(f.Key(), g.Key())
}
