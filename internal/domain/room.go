package domain

import "time"

// RoomID doubles as the meeting link: <16 hex>-<unix ms>.
type RoomID string

type Room struct {
	ID        RoomID
	CreatedAt time.Time
}

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}
