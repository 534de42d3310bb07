package domain

import (
	"errors"
	"time"
)

const MaxChatTextLen = 2000

var (
	ErrChatEmpty   = errors.New("chat message empty")
	ErrChatTooLong = errors.New("chat message too long")
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ChatMessage is one entry of a room's ephemeral chat log.
type ChatMessage struct {
	ID            string        `json:"id"`
	SenderID      ParticipantID `json:"senderId"`
	SenderDisplay string        `json:"senderDisplay"`
	Text          string        `json:"text"`
	Timestamp     time.Time     `json:"timestamp"`
	Direction     Direction     `json:"direction"`
}
