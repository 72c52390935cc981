package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies the external identity provider a user signed in with.
type Provider string

const ProviderGoogle Provider = "GOOGLE"

// StreamTypeYoutube is currently the only supported media source.
const StreamTypeYoutube = "Youtube"

type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"unique"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stream is a single submitted, votable media entry. UserID is the room it
// belongs to (rooms are keyed by their creator's user id).
type Stream struct {
	ID              uuid.UUID  `json:"id" gorm:"primaryKey"`
	UserID          uuid.UUID  `json:"user_id" gorm:"index"`
	Type            string     `json:"type"`
	URL             string     `json:"url"`
	ExtractedID     string     `json:"extracted_id"`
	Title           string     `json:"title"`
	SmallImg        string     `json:"small_img"`
	BigImg          string     `json:"big_img"`
	Played          bool       `json:"played"`
	PlayedTimeStamp *time.Time `json:"played_time_stamp,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Upvote is the (user, stream) join row. The composite unique index enforces
// one vote per user per stream; a concurrent duplicate surfaces as a
// duplicated-key error and is treated as an idempotent success upstream.
type Upvote struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	UserID    uuid.UUID `json:"user_id" gorm:"uniqueIndex:idx_upvote_user_stream"`
	StreamID  uuid.UUID `json:"stream_id" gorm:"uniqueIndex:idx_upvote_user_stream"`
	CreatedAt time.Time `json:"created_at"`
}

// CurrentStream is the singleton now-playing pointer for a room. UserID (the
// room id) is the primary key, so at most one row can exist per room.
type CurrentStream struct {
	UserID    uuid.UUID `json:"user_id" gorm:"primaryKey"`
	StreamID  uuid.UUID `json:"stream_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RankedStream is a queue row together with its authoritative vote count,
// as produced by the ranked queue query.
type RankedStream struct {
	Stream  `gorm:"embedded"`
	Upvotes int `json:"upvotes"`
}
