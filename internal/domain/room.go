package domain

type RoomID string

const MaxRoomIDLen = 64

// Room is a conferencing room as the local client sees it.
type Room struct {
	ID           RoomID
	Participants []Participant
}
