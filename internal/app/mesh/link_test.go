package mesh

import (
	"testing"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func cand(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

func TestPeerLink_BuffersCandidatesUntilRemoteDescription(t *testing.T) {
	req := require.New(t)
	pc := &fakePC{peer: "b"}
	l := newPeerLink("b", Initiator, pc)
	req.NoError(l.begin())
	l.localApplied()

	// Given candidates arriving before the answer
	req.NoError(l.addCandidate(cand("c1")))
	req.NoError(l.addCandidate(cand("c2")))
	req.Empty(pc.candidates)

	// When the answer is applied
	req.NoError(l.applyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}))

	// Then the buffered candidates are flushed in order, later ones go straight through
	req.Equal([]webrtc.ICECandidateInit{cand("c1"), cand("c2")}, pc.candidates)
	req.NoError(l.addCandidate(cand("c3")))
	req.Len(pc.candidates, 3)
}

func TestPeerLink_Transitions(t *testing.T) {
	req := require.New(t)
	l := newPeerLink("b", Answerer, &fakePC{peer: "b"})
	req.Equal(Idle, l.State())

	// connected is only valid while negotiating
	req.False(l.connected(fakeStream{}))
	req.NoError(l.begin())
	req.ErrorIs(l.begin(), errBadTransition)
	req.True(l.connected(fakeStream{}))
	req.False(l.connected(fakeStream{}))
	req.Equal(Connected, l.State())
	_, ok := l.Remote()
	req.True(ok)
}

func TestPeerLink_ClosedIsTerminal(t *testing.T) {
	req := require.New(t)
	pc := &fakePC{peer: "b"}
	l := newPeerLink("b", Initiator, pc)
	req.NoError(l.begin())
	l.localApplied()
	req.NoError(l.addCandidate(cand("c1")))

	// When the link is closed twice
	req.True(l.close())
	req.False(l.close())

	// Then the connection was released once and nothing reopens it
	req.Equal(1, pc.closeCount())
	req.Equal(Closed, l.State())
	req.ErrorIs(l.begin(), errBadTransition)
	req.False(l.connected(fakeStream{}))
	req.ErrorIs(l.applyAnswer(webrtc.SessionDescription{}), domain.ErrDuplicateSignalIgnored)
	req.NoError(l.addCandidate(cand("c2")))
	req.Empty(pc.candidates)
	_, ok := l.Remote()
	req.False(ok)
}

func TestPeerLink_AnswerBeforeOffer(t *testing.T) {
	req := require.New(t)
	l := newPeerLink("b", Initiator, &fakePC{peer: "b"})
	req.NoError(l.begin())

	// An answer racing ahead of our own offer is not applied
	req.ErrorIs(l.applyAnswer(webrtc.SessionDescription{}), domain.ErrDuplicateSignalIgnored)
}

func TestPeerLink_IDsAreUnique(t *testing.T) {
	a := newPeerLink("b", Initiator, &fakePC{})
	b := newPeerLink("b", Initiator, &fakePC{})
	require.NotEqual(t, a.ID(), b.ID())
}
