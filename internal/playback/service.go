package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stream-queue-system/internal/errs"
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

// Publisher pushes room-scoped fanout events.
type Publisher interface {
	Publish(ctx context.Context, roomID string, kind events.Kind, payload any) error
}

// RoomLocker serializes the advancement transition per room. It must hold
// across server instances, not just goroutines.
type RoomLocker interface {
	WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context) error) error
}

// nowPlayingView wraps the nullable current item so "nothing playing" is a
// cacheable value, distinct from a cache miss.
type nowPlayingView struct {
	Stream *models.Stream `json:"stream"`
}

// Service is the playback advancement state machine. A room is IDLE when
// it has no CurrentStream row and PLAYING otherwise; Advance is the only
// transition.
type Service struct {
	db     *database.DB
	cache  ViewCache
	events Publisher
	locker RoomLocker
	log    *zap.Logger
	now    func() time.Time
}

func NewService(db *database.DB, cache ViewCache, events Publisher, locker RoomLocker, log *zap.Logger) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		events: events,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
}

// Advance marks the current stream played and repoints the room at the
// highest-ranked remaining stream, or clears the pointer when the queue is
// drained. The whole transition runs under the room lock and inside one
// transaction: a concurrent Advance for the same room observes the state
// this one produced, never a half-applied pointer.
func (s *Service) Advance(ctx context.Context, roomID uuid.UUID) (*models.Stream, error) {
	var next *models.Stream
	err := s.locker.WithRoomLock(ctx, roomID.String(), func(ctx context.Context) error {
		var err error
		next, err = s.AdvanceLocked(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return next, nil
}

// AdvanceLocked runs the advancement transition without taking the room
// lock; the caller must already hold it. Removal of the currently playing
// stream folds the pointer move into its own locked section through this.
func (s *Service) AdvanceLocked(ctx context.Context, roomID uuid.UUID) (*models.Stream, error) {
	var next *models.Stream

	err := s.db.Transaction(func(tx *gorm.DB) error {
		txdb := s.db.WithTx(tx)

		current, err := txdb.GetCurrentStream(roomID)
		if err != nil {
			return fmt.Errorf("failed to load current stream: %w", err)
		}
		if current != nil {
			if err := txdb.MarkPlayed(current.StreamID, s.now()); err != nil {
				return fmt.Errorf("failed to mark stream played: %w", err)
			}
		}

		candidate, err := txdb.NextStream(roomID)
		if err != nil {
			return fmt.Errorf("failed to rank queue: %w", err)
		}
		if candidate == nil {
			if err := txdb.DeleteCurrentStream(roomID); err != nil {
				return fmt.Errorf("failed to clear current stream: %w", err)
			}
			next = nil
			return nil
		}

		if err := txdb.UpsertCurrentStream(roomID, candidate.ID); err != nil {
			return fmt.Errorf("failed to set current stream: %w", err)
		}
		stream := candidate.Stream
		next = &stream
		return nil
	})
	if err != nil {
		return nil, errs.Unavailable(err)
	}

	s.cache.Invalidate(ctx, roomID.String(), cache.ViewStreams, cache.ViewNowPlaying)
	if err := s.events.Publish(ctx, roomID.String(), events.KindNowPlaying, events.NowPlayingPayload{Stream: next}); err != nil {
		s.log.Warn("failed to publish now-playing event", zap.String("room", roomID.String()), zap.Error(err))
	}

	return next, nil
}

// NowPlaying returns the room's current stream, nil when idle. Read-through
// on the nowplaying view.
func (s *Service) NowPlaying(ctx context.Context, roomID uuid.UUID) (*models.Stream, error) {
	var view nowPlayingView
	if err := s.cache.Get(ctx, roomID.String(), cache.ViewNowPlaying, &view); err == nil {
		return view.Stream, nil
	}

	current, err := s.db.GetCurrentStream(roomID)
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("failed to load current stream: %w", err))
	}

	view = nowPlayingView{}
	if current != nil {
		stream, err := s.db.GetStreamByID(current.StreamID)
		if err != nil {
			return nil, errs.Unavailable(fmt.Errorf("failed to load stream: %w", err))
		}
		view.Stream = stream
	}

	s.cache.Put(ctx, roomID.String(), cache.ViewNowPlaying, view)
	return view.Stream, nil
}
