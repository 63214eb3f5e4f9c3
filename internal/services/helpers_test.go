package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/convoy/internal/cache"
	"github.com/thereayou/convoy/internal/codes"
	"github.com/thereayou/convoy/internal/database"
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/lock"
	"github.com/thereayou/convoy/internal/models"
	"github.com/thereayou/convoy/internal/services"
	"github.com/thereayou/convoy/internal/testfixtures"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, roomID uuid.UUID, evt *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if evt.RoomID == nil {
		evt.RoomID = &roomID
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(t events.Type) *events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == t {
			return p.events[i]
		}
	}
	return nil
}

type recordingDeliverer struct {
	mu      sync.Mutex
	clients []uuid.UUID
}

func (d *recordingDeliverer) SendToClient(clientID uuid.UUID, _ *events.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients = append(d.clients, clientID)
	return nil
}

type env struct {
	db         *database.Database
	gdb        *gorm.DB
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	clock      *testfixtures.Clock
	locker     *lock.Locker
	codes      *codes.Allocator
	cache      *cache.SnapshotCache
	publisher  *recordingPublisher
	membership *services.Membership
	presence   *services.Presence
	chat       *services.ChatLog
	coord      *services.RoomCoordinator
	opts       services.CoordinatorOptions
}

func newEnv(t *testing.T, tune ...func(*services.CoordinatorOptions)) *env {
	t.Helper()

	e := &env{
		clock:     testfixtures.NewClock(testfixtures.ReferenceTime()),
		publisher: &recordingPublisher{},
	}
	e.db, e.gdb = testfixtures.OpenDatabase(t)
	e.mr, e.rdb = testfixtures.NewRedis(t)
	log := testfixtures.Logger()

	e.locker = lock.NewLocker(e.rdb, "")
	e.codes = codes.NewAllocator(e.rdb, e.db, "", 5*time.Minute, log)
	e.cache = cache.NewSnapshotCache(e.rdb, "", time.Hour, log)
	e.membership = services.NewMembership(e.db, e.clock.Now)
	e.presence = services.NewPresence(e.rdb, "", e.membership, e.publisher, services.PresenceOptions{
		LocationTTL: 5 * time.Minute,
		Clock:       e.clock.Now,
	}, log)
	e.chat = services.NewChatLog(e.rdb, "", e.membership, e.publisher, services.ChatOptions{
		TTL:         24 * time.Hour,
		MaxMessages: 500,
		Clock:       e.clock.Now,
	}, log)

	e.opts = services.CoordinatorOptions{
		LockTTL:      15 * time.Second,
		LockWait:     5 * time.Second,
		TxTimeout:    10 * time.Second,
		MaxRoomHours: 24,
		Clock:        e.clock.Now,
	}
	for _, fn := range tune {
		fn(&e.opts)
	}
	e.coord = e.coordinatorWith(e.db)
	return e
}

func (e *env) coordinatorWith(store services.Store) *services.RoomCoordinator {
	return services.NewRoomCoordinator(services.CoordinatorDeps{
		Store:      store,
		Locker:     e.locker,
		Codes:      e.codes,
		Cache:      e.cache,
		Membership: e.membership,
		Presence:   e.presence,
		Chat:       e.chat,
		Publisher:  e.publisher,
	}, e.opts, testfixtures.Logger())
}

// failingStore база, в которой не проходит ни одна транзакция
type failingStore struct {
	services.Store
	err error
}

func (s failingStore) Transaction(context.Context, func(tx *database.Database) error) error {
	return s.err
}

// gatedStore держит первую транзакцию до открытия gate; entered закрывается, когда она ждёт
type gatedStore struct {
	services.Store
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore(store services.Store) *gatedStore {
	return &gatedStore{Store: store, entered: make(chan struct{}), gate: make(chan struct{})}
}

func (s *gatedStore) Transaction(ctx context.Context, fn func(tx *database.Database) error) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Store.Transaction(ctx, fn)
}

// stalledStore транзакция не завершается, пока не истечёт контекст
type stalledStore struct {
	services.Store
}

func (s stalledStore) Transaction(ctx context.Context, _ func(tx *database.Database) error) error {
	<-ctx.Done()
	return ctx.Err()
}

// interleavingStore выполняет between один раз сразу после чтения активных участников
type interleavingStore struct {
	services.Store
	once    sync.Once
	between func()
}

func (s *interleavingStore) ActiveMembers(ctx context.Context, roomID uuid.UUID) ([]models.RoomMember, error) {
	members, err := s.Store.ActiveMembers(ctx, roomID)
	s.once.Do(s.between)
	return members, err
}

func (e *env) createRoom(t *testing.T, owner uuid.UUID, maxMembers, hours int) *models.RoomView {
	t.Helper()
	view, err := e.coord.CreateRoom(context.Background(), services.CreateRoomInput{
		Name:           "Road trip",
		Destination:    models.Destination{Name: "Lake Bled", Latitude: 46.36, Longitude: 14.09},
		MaxMembers:     maxMembers,
		ExpiresInHours: hours,
		CreatorID:      owner,
		Nickname:       "owner",
	})
	require.NoError(t, err)
	return view
}

func (e *env) join(t *testing.T, code string, userID uuid.UUID, nickname string) *services.JoinResult {
	t.Helper()
	res, err := e.coord.JoinRoom(context.Background(), code, userID, nickname)
	require.NoError(t, err)
	return res
}

// assertOwnerInvariant: не больше одного активного владельца; в активной непустой комнате ровно один,
// закрытая уходом последнего участника комната пуста
func (e *env) assertOwnerInvariant(t *testing.T, roomID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	room, err := e.db.GetRoom(ctx, roomID)
	require.NoError(t, err)
	active, err := e.db.ActiveMembers(ctx, roomID)
	require.NoError(t, err)

	owners := 0
	for _, m := range active {
		if m.Role == models.RoleOwner {
			owners++
		}
	}
	require.LessOrEqual(t, owners, 1, "room %s has several owners", roomID)
	if room.Status == models.RoomActive && len(active) > 0 {
		require.Equal(t, 1, owners, "room %s must have exactly one active owner", roomID)
	}
}
