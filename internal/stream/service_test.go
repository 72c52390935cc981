package stream

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stream-queue-system/internal/errs"
	"github.com/stream-queue-system/internal/playback"
	"github.com/stream-queue-system/internal/youtube"
	"github.com/stream-queue-system/pkg/cache"
	"github.com/stream-queue-system/pkg/database"
	"github.com/stream-queue-system/pkg/events"
	"github.com/stream-queue-system/pkg/models"
)

const (
	watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	videoID  = "dQw4w9WgXcQ"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) key(roomID, view string) string { return view + ":" + roomID }

func (c *memCache) Get(_ context.Context, roomID, view string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[c.key(roomID, view)]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *memCache) Put(_ context.Context, roomID, view string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[c.key(roomID, view)] = data
}

func (c *memCache) Invalidate(_ context.Context, roomID string, views ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, view := range views {
		delete(c.data, c.key(roomID, view))
	}
}

func (c *memCache) has(roomID, view string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[c.key(roomID, view)]
	return ok
}

type published struct {
	roomID string
	kind   events.Kind
}

type memPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *memPublisher) Publish(_ context.Context, roomID string, kind events.Kind, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{roomID: roomID, kind: kind})
	return nil
}

func (p *memPublisher) count(kind events.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type memLocker struct {
	mu       sync.Mutex
	acquired int
}

func (l *memLocker) WithRoomLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return fn(ctx)
}

func (l *memLocker) acquisitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

type fakeMeta struct {
	details map[string]*youtube.VideoDetails
}

func (f *fakeMeta) VideoDetails(_ context.Context, id string) (*youtube.VideoDetails, error) {
	d, ok := f.details[id]
	if !ok {
		return nil, youtube.ErrVideoNotFound
	}
	return d, nil
}

type fixture struct {
	svc      *Service
	playback *playback.Service
	db       *database.DB
	cache    *memCache
	pub      *memPublisher
	locker   *memLocker
	roomID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "queue.db")+"?_busy_timeout=5000"), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := database.New(gormDB)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	viewCache := newMemCache()
	pub := &memPublisher{}
	meta := &fakeMeta{details: map[string]*youtube.VideoDetails{
		videoID: {
			Title: "Test Video",
			Thumbnails: []youtube.Thumbnail{
				{URL: "small.jpg", Width: 120},
				{URL: "medium.jpg", Width: 320},
				{URL: "big.jpg", Width: 480},
			},
		},
	}}
	// Shared locker: removal and advancement must contend for the same
	// per-room lock.
	locker := &memLocker{}
	advancer := playback.NewService(db, viewCache, pub, locker, zap.NewNop())
	svc := NewService(db, viewCache, pub, meta, advancer, locker, zap.NewNop())

	room := &models.User{ID: uuid.New(), Email: "host@example.com", Provider: models.ProviderGoogle}
	if err := db.CreateUser(room); err != nil {
		t.Fatalf("create room user: %v", err)
	}

	return &fixture{svc: svc, playback: advancer, db: db, cache: viewCache, pub: pub, locker: locker, roomID: room.ID}
}

func (f *fixture) addStream(t *testing.T, title string, createdAt time.Time) uuid.UUID {
	t.Helper()
	s := &models.Stream{
		ID:        uuid.New(),
		UserID:    f.roomID,
		Type:      models.StreamTypeYoutube,
		Title:     title,
		CreatedAt: createdAt,
	}
	if err := f.db.CreateStream(s); err != nil {
		t.Fatalf("create stream %q: %v", title, err)
	}
	return s.ID
}

func TestAddStreamRejectsNonVideoURL(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{
		"https://example.com/watch?v=dQw4w9WgXcQ",
		"not a url",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLabc",
	} {
		if _, err := f.svc.AddStream(context.Background(), f.roomID, uuid.New(), raw); !errors.Is(err, errs.ErrInvalidSource) {
			t.Fatalf("url %q: expected ErrInvalidSource, got %v", raw, err)
		}
	}

	rows, err := f.db.RankedStreams(f.roomID)
	if err != nil {
		t.Fatalf("ranked streams: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rejected submission still persisted something")
	}
}

func TestAddStreamUnknownRoom(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.AddStream(context.Background(), uuid.New(), uuid.New(), watchURL); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddStreamPersistsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.AddStream(ctx, f.roomID, uuid.New(), watchURL)
	if err != nil {
		t.Fatalf("add stream: %v", err)
	}
	if created.ExtractedID != videoID {
		t.Fatalf("wrong extracted id %q", created.ExtractedID)
	}
	if created.Title != "Test Video" {
		t.Fatalf("wrong title %q", created.Title)
	}
	if created.BigImg != "big.jpg" || created.SmallImg != "medium.jpg" {
		t.Fatalf("wrong thumbnails small=%q big=%q", created.SmallImg, created.BigImg)
	}
	if f.pub.count(events.KindItemAdded) != 1 {
		t.Fatalf("item-added not published")
	}
}

func TestUpvoteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streamID := f.addStream(t, "s", time.Now())
	viewer := uuid.New()

	first, err := f.svc.Upvote(ctx, f.roomID, viewer, streamID)
	if err != nil {
		t.Fatalf("first upvote: %v", err)
	}
	if first != VoteCreated {
		t.Fatalf("first upvote outcome %q", first)
	}

	second, err := f.svc.Upvote(ctx, f.roomID, viewer, streamID)
	if err != nil {
		t.Fatalf("second upvote: %v", err)
	}
	if second != VoteAlreadyApplied {
		t.Fatalf("second upvote outcome %q", second)
	}

	count, err := f.db.CountUpvotes(streamID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one vote row, got %d", count)
	}
}

func TestDownvoteWithoutVoteSucceeds(t *testing.T) {
	f := newFixture(t)
	streamID := f.addStream(t, "s", time.Now())

	outcome, err := f.svc.Downvote(context.Background(), f.roomID, uuid.New(), streamID)
	if err != nil {
		t.Fatalf("downvote: %v", err)
	}
	if outcome != VoteAlreadyRemoved {
		t.Fatalf("expected already_removed, got %q", outcome)
	}
}

func TestVoteRoundTripRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streamID := f.addStream(t, "s", time.Now())
	viewer := uuid.New()

	if _, err := f.svc.Upvote(ctx, f.roomID, viewer, streamID); err != nil {
		t.Fatalf("upvote: %v", err)
	}
	outcome, err := f.svc.Downvote(ctx, f.roomID, viewer, streamID)
	if err != nil {
		t.Fatalf("downvote: %v", err)
	}
	if outcome != VoteRemoved {
		t.Fatalf("expected removed, got %q", outcome)
	}

	count, err := f.db.CountUpvotes(streamID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("round trip left %d vote rows", count)
	}
}

func TestVotesFromDistinctViewersAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streamID := f.addStream(t, "s", time.Now())

	var wg sync.WaitGroup
	outcomes := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcomes[i] = f.svc.Upvote(ctx, f.roomID, uuid.New(), streamID)
		}(i)
	}
	wg.Wait()
	for i, err := range outcomes {
		if err != nil {
			t.Fatalf("upvote %d: %v", i, err)
		}
	}

	count, err := f.db.CountUpvotes(streamID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 votes, got %d", count)
	}
}

func TestVoteUnknownStream(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Upvote(context.Background(), f.roomID, uuid.New(), uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListQueueOrderingAndViewerFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	viewer := uuid.New()

	a := f.addStream(t, "a", base)
	b := f.addStream(t, "b", base.Add(time.Minute))
	if _, err := f.svc.Upvote(ctx, f.roomID, viewer, b); err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if _, err := f.svc.Upvote(ctx, f.roomID, uuid.New(), b); err != nil {
		t.Fatalf("upvote: %v", err)
	}

	items, err := f.svc.ListQueue(ctx, f.roomID, viewer)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != b || items[1].ID != a {
		t.Fatalf("queue not ordered by votes")
	}
	if items[0].Upvotes != 2 {
		t.Fatalf("wrong vote count %d", items[0].Upvotes)
	}
	if !items[0].HaveUpvoted || items[1].HaveUpvoted {
		t.Fatalf("viewer flags wrong: %v %v", items[0].HaveUpvoted, items[1].HaveUpvoted)
	}
}

func TestListQueueAnonymousViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streamID := f.addStream(t, "s", time.Now())
	if _, err := f.svc.Upvote(ctx, f.roomID, uuid.New(), streamID); err != nil {
		t.Fatalf("upvote: %v", err)
	}

	items, err := f.svc.ListQueue(ctx, f.roomID, uuid.Nil)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if items[0].HaveUpvoted {
		t.Fatalf("anonymous viewer reported as having voted")
	}
}

func TestListQueueReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStream(t, "s", time.Now())

	if _, err := f.svc.ListQueue(ctx, f.roomID, uuid.Nil); err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if !f.cache.has(f.roomID.String(), cache.ViewStreams) {
		t.Fatalf("miss did not repopulate the cache")
	}

	// A cached view is served as-is; plant a marker to prove it.
	f.cache.Put(ctx, f.roomID.String(), cache.ViewStreams, []models.RankedStream{
		{Stream: models.Stream{ID: uuid.New(), Title: "cached marker"}},
	})
	items, err := f.svc.ListQueue(ctx, f.roomID, uuid.Nil)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(items) != 1 || items[0].Title != "cached marker" {
		t.Fatalf("cached view not served")
	}
}

func TestVoteInvalidatesQueueView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streamID := f.addStream(t, "s", time.Now())

	if _, err := f.svc.ListQueue(ctx, f.roomID, uuid.Nil); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := f.svc.Upvote(ctx, f.roomID, uuid.New(), streamID); err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if f.cache.has(f.roomID.String(), cache.ViewStreams) {
		t.Fatalf("vote left a stale queue view in the cache")
	}

	items, err := f.svc.ListQueue(ctx, f.roomID, uuid.Nil)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if items[0].Upvotes != 1 {
		t.Fatalf("mutation not visible to the next read")
	}
	if f.pub.count(events.KindVoteChanged) != 1 {
		t.Fatalf("vote-changed not published")
	}
}

func TestRemoveStreamCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streamID := f.addStream(t, "s", time.Now())
	if _, err := f.svc.Upvote(ctx, f.roomID, uuid.New(), streamID); err != nil {
		t.Fatalf("upvote: %v", err)
	}

	if err := f.svc.RemoveStream(ctx, f.roomID, streamID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	count, err := f.db.CountUpvotes(streamID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("removal left %d orphaned votes", count)
	}
	if err := f.svc.RemoveStream(ctx, f.roomID, streamID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second removal: expected ErrNotFound, got %v", err)
	}
}

func TestRemoveCurrentStreamAdvancesPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addStream(t, "first", time.Now().Add(-time.Minute))
	second := f.addStream(t, "second", time.Now())

	if _, err := f.playback.Advance(ctx, f.roomID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := f.svc.RemoveStream(ctx, f.roomID, first); err != nil {
		t.Fatalf("remove current: %v", err)
	}

	current, err := f.db.GetCurrentStream(f.roomID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current == nil || current.StreamID != second {
		t.Fatalf("pointer not moved off the removed stream")
	}
	if got, err := f.db.GetStreamByID(first); err != nil || got != nil {
		t.Fatalf("removed stream still present (err=%v)", err)
	}
}

func TestRemoveLastCurrentStreamClearsPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	only := f.addStream(t, "only", time.Now())

	if _, err := f.playback.Advance(ctx, f.roomID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := f.svc.RemoveStream(ctx, f.roomID, only); err != nil {
		t.Fatalf("remove: %v", err)
	}

	current, err := f.db.GetCurrentStream(f.roomID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current != nil {
		t.Fatalf("dangling pointer after removing the only stream")
	}
}

func TestRemoveStreamHoldsRoomLock(t *testing.T) {
	f := newFixture(t)
	streamID := f.addStream(t, "s", time.Now())

	before := f.locker.acquisitions()
	if err := f.svc.RemoveStream(context.Background(), f.roomID, streamID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := f.locker.acquisitions(); got != before+1 {
		t.Fatalf("removal must run under the room lock exactly once, took it %d times", got-before)
	}
}

func TestRemoveRacingAdvanceKeepsPointerValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStream(t, "first", time.Now().Add(-2*time.Minute))
	second := f.addStream(t, "second", time.Now().Add(-time.Minute))
	f.addStream(t, "third", time.Now())

	if _, err := f.playback.Advance(ctx, f.roomID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// Race an advance (which may repoint at "second") against its removal.
	// Serialized either way, the pointer must end on a live unplayed row.
	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = f.playback.Advance(ctx, f.roomID)
	}()
	go func() {
		defer wg.Done()
		results[1] = f.svc.RemoveStream(ctx, f.roomID, second)
	}()
	wg.Wait()
	for i, err := range results {
		if err != nil {
			t.Fatalf("operation %d: %v", i, err)
		}
	}

	current, err := f.db.GetCurrentStream(f.roomID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current == nil {
		t.Fatalf("pointer missing with an unplayed stream left")
	}
	pointed, err := f.db.GetStreamByID(current.StreamID)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	if pointed == nil {
		t.Fatalf("pointer references a deleted stream")
	}
	if pointed.Played {
		t.Fatalf("pointer references a played stream")
	}
}

func TestStoreOutageSurfacesRetryable(t *testing.T) {
	f := newFixture(t)
	streamID := f.addStream(t, "s", time.Now())

	sqlDB, err := f.db.DB.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close sql db: %v", err)
	}

	ctx := context.Background()
	if _, err := f.svc.ListQueue(ctx, f.roomID, uuid.Nil); !errors.Is(err, errs.ErrDependencyUnavailable) {
		t.Fatalf("list queue: expected ErrDependencyUnavailable, got %v", err)
	}
	if _, err := f.svc.Upvote(ctx, f.roomID, uuid.New(), streamID); !errors.Is(err, errs.ErrDependencyUnavailable) {
		t.Fatalf("upvote: expected ErrDependencyUnavailable, got %v", err)
	}
	if err := f.svc.RemoveStream(ctx, f.roomID, streamID); !errors.Is(err, errs.ErrDependencyUnavailable) {
		t.Fatalf("remove: expected ErrDependencyUnavailable, got %v", err)
	}
}
