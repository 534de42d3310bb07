package domain

import "time"

// TranscriptFragment is the latest text a speech-to-text capability produced
// for one participant.
type TranscriptFragment struct {
	ParticipantID ParticipantID `json:"participantId"`
	Username      string        `json:"username"`
	Text          string        `json:"text"`
	// Timestamp is zero when the source did not provide one.
	Timestamp time.Time `json:"timestamp"`
}

// Key is the identity fragments are merged under: the participant id when
// known, the username otherwise. Usernames are display only and may repeat.
func (f TranscriptFragment) Key() string {
	if f.ParticipantID != "" {
		return string(f.ParticipantID)
	}
	return f.Username
}
