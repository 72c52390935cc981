package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stream-queue-system/pkg/models"
)

// User operations

func (db *DB) CreateUser(user *models.User) error {
	return db.Create(user).Error
}

func (db *DB) GetUserByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (db *DB) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	if err := db.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Stream operations

func (db *DB) CreateStream(stream *models.Stream) error {
	return db.Create(stream).Error
}

// GetStreamInRoom fetches a stream scoped to its room; nil when the stream
// does not exist or belongs to a different room.
func (db *DB) GetStreamInRoom(roomID, streamID uuid.UUID) (*models.Stream, error) {
	var stream models.Stream
	if err := db.First(&stream, "id = ? AND user_id = ?", streamID, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stream, nil
}

func (db *DB) GetStreamByID(id uuid.UUID) (*models.Stream, error) {
	var stream models.Stream
	if err := db.First(&stream, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stream, nil
}

// RankedStreams returns the room's unplayed streams with their vote counts,
// most-voted first. Ties collapse to insertion order (earliest submission
// first) so the ordering is deterministic even when every count is zero.
func (db *DB) RankedStreams(roomID uuid.UUID) ([]models.RankedStream, error) {
	var rows []models.RankedStream
	err := db.Model(&models.Stream{}).
		Select("streams.*, COUNT(upvotes.id) AS upvotes").
		Joins("LEFT JOIN upvotes ON upvotes.stream_id = streams.id").
		Where("streams.user_id = ? AND streams.played = ?", roomID, false).
		Group("streams.id").
		Order("upvotes DESC, streams.created_at ASC").
		Scan(&rows).Error
	return rows, err
}

// NextStream returns the highest-ranked unplayed stream, or nil when the
// room's queue is drained.
func (db *DB) NextStream(roomID uuid.UUID) (*models.RankedStream, error) {
	rows, err := db.RankedStreams(roomID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MarkPlayed flips the played flag and stamps the time.
func (db *DB) MarkPlayed(streamID uuid.UUID, at time.Time) error {
	return db.Model(&models.Stream{}).
		Where("id = ?", streamID).
		Updates(map[string]any{"played": true, "played_time_stamp": at}).Error
}

// DeleteStreamCascade removes a stream and its upvotes. The upvotes go
// first so a failure half-way never leaves orphaned votes behind a missing
// stream. Returns false when the stream is not in the room.
func (db *DB) DeleteStreamCascade(roomID, streamID uuid.UUID) (bool, error) {
	deleted := false
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stream_id = ?", streamID).Delete(&models.Upvote{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND user_id = ?", streamID, roomID).Delete(&models.Stream{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// Upvote operations

// CreateUpvote inserts a vote row. A second vote by the same user for the
// same stream comes back as gorm.ErrDuplicatedKey.
func (db *DB) CreateUpvote(vote *models.Upvote) error {
	return db.Create(vote).Error
}

// DeleteUpvote removes the (user, stream) vote if present and reports
// whether a row was actually deleted.
func (db *DB) DeleteUpvote(userID, streamID uuid.UUID) (bool, error) {
	res := db.Where("user_id = ? AND stream_id = ?", userID, streamID).Delete(&models.Upvote{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (db *DB) CountUpvotes(streamID uuid.UUID) (int, error) {
	var count int64
	if err := db.Model(&models.Upvote{}).Where("stream_id = ?", streamID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ViewerUpvotes returns the set of stream ids in the room the viewer has an
// active vote on.
func (db *DB) ViewerUpvotes(roomID, viewerID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	var ids []uuid.UUID
	err := db.Model(&models.Upvote{}).
		Joins("JOIN streams ON streams.id = upvotes.stream_id").
		Where("streams.user_id = ? AND upvotes.user_id = ?", roomID, viewerID).
		Pluck("upvotes.stream_id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// CurrentStream operations

func (db *DB) GetCurrentStream(roomID uuid.UUID) (*models.CurrentStream, error) {
	var current models.CurrentStream
	if err := db.First(&current, "user_id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &current, nil
}

// UpsertCurrentStream creates or repoints the room's singleton pointer row.
func (db *DB) UpsertCurrentStream(roomID, streamID uuid.UUID) error {
	current := models.CurrentStream{
		UserID:    roomID,
		StreamID:  streamID,
		UpdatedAt: time.Now(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stream_id", "updated_at"}),
	}).Create(&current).Error
}

func (db *DB) DeleteCurrentStream(roomID uuid.UUID) error {
	return db.Where("user_id = ?", roomID).Delete(&models.CurrentStream{}).Error
}
