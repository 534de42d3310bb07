package orch

import (
	"context"
	"errors"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// dispatch routes one relay frame. It never blocks on a negotiation.
func (o *Orchestrator) dispatch(ctx context.Context, msg protocol.Message) {
	var err error
	switch msg.Type {
	case protocol.TypeRosterSnapshot:
		var r protocol.RosterSnapshot
		if err = msg.Decode(&r); err == nil {
			if r.Resumed {
				err = o.Mesh.OnRosterResumed(r.Participants)
			} else {
				err = o.Mesh.OnRosterSnapshot(r.Participants)
			}
			o.rosterChanged()
		}
	case protocol.TypePeerJoined:
		var sig protocol.Signal
		if err = msg.Decode(&sig); err == nil {
			p := domain.Participant{ID: domain.ParticipantID(msg.From)}
			if sig.Participant != nil {
				p = *sig.Participant
			}
			p.PeerID = msg.From
			err = o.Mesh.OnPeerJoinedSignal(msg.From, sig.Signal, p)
			o.rosterChanged()
		}
	case protocol.TypeSignalAnswer:
		var sig protocol.Signal
		if err = msg.Decode(&sig); err == nil {
			err = o.Mesh.OnAnswerSignal(msg.From, sig.Signal)
		}
	case protocol.TypeIceFragment:
		var f protocol.IceFragment
		if err = msg.Decode(&f); err == nil {
			err = o.Mesh.OnIceFragment(msg.From, f.Candidate)
		}
	case protocol.TypePeerLeft:
		peer := msg.From
		var pl protocol.PeerLeft
		if msg.Decode(&pl) == nil && pl.PeerID != "" {
			peer = pl.PeerID
		}
		err = o.Mesh.OnPeerLeft(peer)
	case protocol.TypeChatMessage:
		err = o.onChat(ctx, msg)
	case protocol.TypeCaptionSnapshot:
		var view []domain.TranscriptFragment
		if view, err = o.Captions.Apply(msg); err == nil && o.events.Captions != nil {
			o.events.Captions(view)
		}
	case protocol.TypeParticipantUpdated:
		var pu protocol.ParticipantUpdated
		if err = msg.Decode(&pu); err == nil && o.Mesh.OnParticipantUpdated(pu.Participant) {
			o.rosterChanged()
		}
	case protocol.TypeError:
		log.Warn().Str("module", "orch").Str("error", msg.Error).Msg("relay rejected a frame")
	case protocol.TypePong:
	default:
		log.Debug().Str("module", "orch").Str("type", string(msg.Type)).Msg("unhandled frame")
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicateSignalIgnored), errors.Is(err, domain.ErrUnknownPeer):
		log.Debug().Str("module", "orch").Str("type", string(msg.Type)).Str("from", string(msg.From)).Err(err).Msg("frame ignored")
	default:
		log.Warn().Str("module", "orch").Str("type", string(msg.Type)).Str("from", string(msg.From)).Err(err).Msg("frame failed")
	}
}

func (o *Orchestrator) onChat(ctx context.Context, msg protocol.Message) error {
	m, delivered, err := o.Chat.OnIncoming(msg)
	if err != nil || !delivered || o.Suggest == nil || o.events.Suggestions == nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	o.bg.Go(func() {
		if out := o.Suggest.For(ctx, m.Text); len(out) > 0 {
			o.events.Suggestions(m, out)
		}
	})
	return nil
}

func (o *Orchestrator) onPeerRemoved(p domain.Participant) {
	o.Captions.Forget(p.CaptionKey())
	o.rosterChanged()
}

func (o *Orchestrator) onLinkFailed(peer domain.PeerID, err error) {
	log.Warn().Str("module", "orch").Str("peer", string(peer)).Err(err).Msg("link failed")
	o.report(err)
}

func (o *Orchestrator) rosterChanged() {
	if o.events.Roster != nil {
		o.events.Roster(o.Mesh.Participants())
	}
}

// SendChat posts text to the room.
func (o *Orchestrator) SendChat(ctx context.Context, text string) (domain.ChatMessage, error) {
	if !o.joined() {
		return domain.ChatMessage{}, domain.ErrNotJoined
	}
	return o.Chat.Send(ctx, text)
}
