package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stream-queue-system/internal/errs"
	"github.com/stream-queue-system/internal/youtube"
	"github.com/stream-queue-system/pkg/cache"
	"github.com/stream-queue-system/pkg/database"
	"github.com/stream-queue-system/pkg/events"
	"github.com/stream-queue-system/pkg/models"
)

// ViewCache is the slice of the cache layer this service touches.
type ViewCache interface {
	Get(ctx context.Context, roomID, view string, dest any) error
	Put(ctx context.Context, roomID, view string, value any)
	Invalidate(ctx context.Context, roomID string, views ...string)
}

// Publisher pushes room-scoped fanout events. Failures are logged and
// dropped; the store mutation has already committed.
type Publisher interface {
	Publish(ctx context.Context, roomID string, kind events.Kind, payload any) error
}

// Metadata resolves title and thumbnails for a submitted video.
type Metadata interface {
	VideoDetails(ctx context.Context, videoID string) (*youtube.VideoDetails, error)
}

// Advancer moves the room's now-playing pointer. Used when the currently
// playing stream is removed, so the pointer never dangles. The caller holds
// the room lock across the whole removal, hence the lock-free variant.
type Advancer interface {
	AdvanceLocked(ctx context.Context, roomID uuid.UUID) (*models.Stream, error)
}

// RoomLocker serializes removal against concurrent advancement for the
// same room, across instances.
type RoomLocker interface {
	WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context) error) error
}

// VoteOutcome distinguishes an applied vote from an idempotent no-op. Both
// are successes; callers that care (tests, clients) can tell them apart.
type VoteOutcome string

const (
	VoteCreated        VoteOutcome = "created"
	VoteAlreadyApplied VoteOutcome = "already_applied"
	VoteRemoved        VoteOutcome = "removed"
	VoteAlreadyRemoved VoteOutcome = "already_removed"
)

// QueueItem is a ranked queue entry decorated with the viewer's own vote
// state. The viewer flag is computed per request and never cached: the
// cached view is shared by every viewer of the room.
type QueueItem struct {
	models.RankedStream
	HaveUpvoted bool `json:"have_upvoted"`
}

// Service is the queue ordering engine: it owns submissions, votes and the
// ranked room view.
type Service struct {
	db       *database.DB
	cache    ViewCache
	events   Publisher
	meta     Metadata
	playback Advancer
	locker   RoomLocker
	log      *zap.Logger
}

func NewService(db *database.DB, cache ViewCache, events Publisher, meta Metadata, playback Advancer, locker RoomLocker, log *zap.Logger) *Service {
	return &Service{
		db:       db,
		cache:    cache,
		events:   events,
		meta:     meta,
		playback: playback,
		locker:   locker,
		log:      log,
	}
}

// AddStream submits a url to a room's queue.
func (s *Service) AddStream(ctx context.Context, roomID, viewerID uuid.UUID, rawURL string) (*models.Stream, error) {
	videoID, err := youtube.ExtractVideoID(rawURL)
	if err != nil {
		return nil, errs.ErrInvalidSource
	}

	room, err := s.db.GetUserByID(roomID)
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("failed to resolve room: %w", err))
	}
	if room == nil {
		return nil, errs.ErrNotFound
	}

	details, err := s.meta.VideoDetails(ctx, videoID)
	if err != nil {
		if errors.Is(err, youtube.ErrVideoNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Unavailable(fmt.Errorf("failed to fetch video details: %w", err))
	}
	small, big := youtube.PickThumbnails(details.Thumbnails)

	stream := &models.Stream{
		ID:          uuid.New(),
		UserID:      roomID,
		Type:        models.StreamTypeYoutube,
		URL:         rawURL,
		ExtractedID: videoID,
		Title:       details.Title,
		SmallImg:    small,
		BigImg:      big,
	}
	if err := s.db.CreateStream(stream); err != nil {
		return nil, errs.Unavailable(fmt.Errorf("failed to create stream: %w", err))
	}

	s.cache.Invalidate(ctx, roomID.String(), cache.ViewStreams)
	s.publish(ctx, roomID, events.KindItemAdded, events.ItemAddedPayload{Stream: stream})

	return stream, nil
}

// ListQueue returns the room's votable queue, most-voted first, with the
// viewer's own vote flags. The ranked view is read through the cache; a
// miss falls through to the store and repopulates.
func (s *Service) ListQueue(ctx context.Context, roomID, viewerID uuid.UUID) ([]QueueItem, error) {
	var ranked []models.RankedStream
	if err := s.cache.Get(ctx, roomID.String(), cache.ViewStreams, &ranked); err != nil {
		ranked, err = s.db.RankedStreams(roomID)
		if err != nil {
			return nil, errs.Unavailable(fmt.Errorf("failed to list queue: %w", err))
		}
		s.cache.Put(ctx, roomID.String(), cache.ViewStreams, ranked)
	}

	voted := map[uuid.UUID]struct{}{}
	if viewerID != uuid.Nil {
		var err error
		voted, err = s.db.ViewerUpvotes(roomID, viewerID)
		if err != nil {
			return nil, errs.Unavailable(fmt.Errorf("failed to load viewer votes: %w", err))
		}
	}

	items := make([]QueueItem, 0, len(ranked))
	for _, row := range ranked {
		_, has := voted[row.ID]
		items = append(items, QueueItem{RankedStream: row, HaveUpvoted: has})
	}
	return items, nil
}

// Upvote records the viewer's vote on a stream. Voting twice is a no-op
// reported as VoteAlreadyApplied.
func (s *Service) Upvote(ctx context.Context, roomID, viewerID, streamID uuid.UUID) (VoteOutcome, error) {
	target, err := s.db.GetStreamInRoom(roomID, streamID)
	if err != nil {
		return "", errs.Unavailable(fmt.Errorf("failed to resolve stream: %w", err))
	}
	if target == nil {
		return "", errs.ErrNotFound
	}

	outcome := VoteCreated
	vote := &models.Upvote{ID: uuid.New(), UserID: viewerID, StreamID: streamID}
	if err := s.db.CreateUpvote(vote); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", errs.Unavailable(fmt.Errorf("failed to create vote: %w", err))
		}
		outcome = VoteAlreadyApplied
	}

	s.finishVote(ctx, roomID, streamID)
	return outcome, nil
}

// Downvote removes the viewer's vote. Removing an absent vote is a no-op
// reported as VoteAlreadyRemoved.
func (s *Service) Downvote(ctx context.Context, roomID, viewerID, streamID uuid.UUID) (VoteOutcome, error) {
	target, err := s.db.GetStreamInRoom(roomID, streamID)
	if err != nil {
		return "", errs.Unavailable(fmt.Errorf("failed to resolve stream: %w", err))
	}
	if target == nil {
		return "", errs.ErrNotFound
	}

	deleted, err := s.db.DeleteUpvote(viewerID, streamID)
	if err != nil {
		return "", errs.Unavailable(fmt.Errorf("failed to delete vote: %w", err))
	}
	outcome := VoteRemoved
	if !deleted {
		outcome = VoteAlreadyRemoved
	}

	s.finishVote(ctx, roomID, streamID)
	return outcome, nil
}

func (s *Service) finishVote(ctx context.Context, roomID, streamID uuid.UUID) {
	s.cache.Invalidate(ctx, roomID.String(), cache.ViewStreams)

	total, err := s.db.CountUpvotes(streamID)
	if err != nil {
		s.log.Warn("failed to count votes for fanout", zap.String("stream", streamID.String()), zap.Error(err))
		return
	}
	s.publish(ctx, roomID, events.KindVoteChanged, events.VoteChangedPayload{
		StreamID:   streamID.String(),
		TotalVotes: total,
	})
}

// RemoveStream deletes a stream and its votes. Deleting the stream the
// room is currently playing first advances the pointer, so it never ends
// up referencing a dead row. The whole check-advance-delete sequence holds
// the room lock: a concurrent advance cannot repoint at the row between
// the current-pointer check and the delete.
func (s *Service) RemoveStream(ctx context.Context, roomID, streamID uuid.UUID) error {
	err := s.locker.WithRoomLock(ctx, roomID.String(), func(ctx context.Context) error {
		target, err := s.db.GetStreamInRoom(roomID, streamID)
		if err != nil {
			return errs.Unavailable(fmt.Errorf("failed to resolve stream: %w", err))
		}
		if target == nil {
			return errs.ErrNotFound
		}

		current, err := s.db.GetCurrentStream(roomID)
		if err != nil {
			return errs.Unavailable(fmt.Errorf("failed to resolve current stream: %w", err))
		}
		if current != nil && current.StreamID == streamID {
			if _, err := s.playback.AdvanceLocked(ctx, roomID); err != nil {
				return fmt.Errorf("failed to advance past removed stream: %w", err)
			}
		}

		deleted, err := s.db.DeleteStreamCascade(roomID, streamID)
		if err != nil {
			return errs.Unavailable(fmt.Errorf("failed to delete stream: %w", err))
		}
		if !deleted {
			return errs.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, roomID.String(), cache.ViewStreams)
	s.publish(ctx, roomID, events.KindVoteChanged, events.VoteChangedPayload{
		StreamID:   streamID.String(),
		TotalVotes: 0,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, roomID uuid.UUID, kind events.Kind, payload any) {
	if err := s.events.Publish(ctx, roomID.String(), kind, payload); err != nil {
		s.log.Warn("failed to publish event",
			zap.String("kind", string(kind)),
			zap.String("room", roomID.String()),
			zap.Error(err))
	}
}
