package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/cache"
	"github.com/thereayou/convoy/internal/codes"
	"github.com/thereayou/convoy/internal/database"
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/lock"
	"github.com/thereayou/convoy/internal/models"
)

const (
	maxLeaveAttempts   = 3
	defaultCleanupSize = 500
)

// errStaleMember условное обновление не затронуло строк: состояние изменилось между чтением и записью
var errStaleMember = errors.New("member state changed concurrently")

type CoordinatorOptions struct {
	LockTTL      time.Duration
	LockWait     time.Duration
	TxTimeout    time.Duration
	MaxRoomHours int
	CleanupBatch int
	Clock        func() time.Time
}

// CoordinatorDeps зависимости координатора; все обязательны
type CoordinatorDeps struct {
	Store      Store
	Locker     *lock.Locker
	Codes      *codes.Allocator
	Cache      *cache.SnapshotCache
	Membership *Membership
	Presence   *Presence
	Chat       *ChatLog
	Publisher  events.Publisher
}

// RoomCoordinator единственный писатель комнат и участников.
// Мутации участников одной комнаты сериализуются распределённой блокировкой,
// кэш и эфемерное состояние обновляются только после коммита.
type RoomCoordinator struct {
	db         Store
	locker     *lock.Locker
	codes      *codes.Allocator
	cache      *cache.SnapshotCache
	membership *Membership
	presence   *Presence
	chat       *ChatLog
	publisher  events.Publisher
	opts       CoordinatorOptions
	now        func() time.Time
	log        *logrus.Entry
}

func NewRoomCoordinator(deps CoordinatorDeps, opts CoordinatorOptions, log *logrus.Entry) *RoomCoordinator {
	if deps.Store == nil || deps.Locker == nil || deps.Codes == nil || deps.Cache == nil ||
		deps.Membership == nil || deps.Presence == nil || deps.Chat == nil || deps.Publisher == nil {
		panic("services: incomplete RoomCoordinator dependencies")
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 10 * time.Second
	}
	if opts.LockTTL <= opts.TxTimeout {
		opts.LockTTL = opts.TxTimeout + 5*time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 2 * time.Second
	}
	if opts.MaxRoomHours <= 0 {
		opts.MaxRoomHours = 24
	}
	if opts.CleanupBatch <= 0 {
		opts.CleanupBatch = defaultCleanupSize
	}
	if opts.Clock == nil {
		opts.Clock = utcNow
	}
	return &RoomCoordinator{
		db:         deps.Store,
		locker:     deps.Locker,
		codes:      deps.Codes,
		cache:      deps.Cache,
		membership: deps.Membership,
		presence:   deps.Presence,
		chat:       deps.Chat,
		publisher:  deps.Publisher,
		opts:       opts,
		now:        opts.Clock,
		log:        log.WithField("component", "room_coordinator"),
	}
}

type CreateRoomInput struct {
	Name           string
	Destination    models.Destination
	MaxMembers     int
	ExpiresInHours int
	CreatorID      uuid.UUID
	Nickname       string
}

type JoinResult struct {
	Room        *models.RoomView
	Member      *models.RoomMember
	IsRejoining bool
}

// CreateRoom резервирует код, создаёт комнату с владельцем в одной транзакции и заполняет кэш
func (c *RoomCoordinator) CreateRoom(ctx context.Context, in CreateRoomInput) (*models.RoomView, error) {
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.Name == "":
		return nil, fmt.Errorf("%w: room name is required", ErrInvalidInput)
	case strings.TrimSpace(in.Destination.Name) == "":
		return nil, fmt.Errorf("%w: destination name is required", ErrInvalidInput)
	case !models.ValidCoordinates(in.Destination.Latitude, in.Destination.Longitude):
		return nil, fmt.Errorf("%w: destination coordinates out of range", ErrInvalidInput)
	case in.MaxMembers < models.MinRoomMembers || in.MaxMembers > models.MaxRoomMembers:
		return nil, fmt.Errorf("%w: max members must be within %d..%d", ErrInvalidInput, models.MinRoomMembers, models.MaxRoomMembers)
	case in.ExpiresInHours < 1 || in.ExpiresInHours > c.opts.MaxRoomHours:
		return nil, fmt.Errorf("%w: expiry must be within 1..%d hours", ErrInvalidInput, c.opts.MaxRoomHours)
	case in.CreatorID == uuid.Nil:
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}

	code, err := c.codes.Generate(ctx)
	if errors.Is(err, codes.ErrAllocationExhausted) {
		return nil, fmt.Errorf("%w: %v", ErrAllocationExhausted, err)
	}
	if err != nil {
		return nil, fmt.Errorf("allocate room code: %w", err)
	}

	now := c.now()
	expiresAt := now.Add(time.Duration(in.ExpiresInHours) * time.Hour)
	room := &models.Room{
		Code:        code,
		Name:        in.Name,
		Destination: in.Destination,
		CreatedBy:   in.CreatorID,
		MaxMembers:  in.MaxMembers,
		Status:      models.RoomActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   &expiresAt,
	}
	owner := &models.RoomMember{
		UserID:     in.CreatorID,
		Nickname:   in.Nickname,
		Role:       models.RoleOwner,
		Status:     models.MemberActive,
		JoinOrder:  1,
		JoinedAt:   now,
		LastSeenAt: now,
	}

	err = c.inTx(ctx, func(ctx context.Context, tx *database.Database) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		owner.RoomID = room.ID
		return tx.CreateMember(ctx, owner)
	})
	if err != nil {
		if rerr := c.codes.Release(context.WithoutCancel(ctx), code); rerr != nil {
			c.log.WithError(rerr).WithField("code", code).Error("failed to release room code reservation")
		}
		if errors.Is(err, database.ErrDuplicate) {
			return nil, fmt.Errorf("%w: room code %s taken concurrently", ErrConflict, code)
		}
		return nil, fmt.Errorf("create room: %w", err)
	}

	view := models.NewRoomView(room, []models.RoomMember{*owner})
	c.storeSnapshot(ctx, view)
	if err := c.codes.Commit(ctx, code, room.ID, room.RemainingLifetime(now)); err != nil {
		c.log.WithError(err).WithField("room_id", room.ID).Warn("failed to commit room code mapping")
	}

	c.log.WithFields(logrus.Fields{
		"room_id": room.ID,
		"code":    code,
		"owner":   in.CreatorID,
	}).Info("room created")
	return view, nil
}

// JoinRoom вход по коду под блокировкой комнаты. Повторный вход реактивирует строку и сохраняет порядок входа.
func (c *RoomCoordinator) JoinRoom(ctx context.Context, code string, userID uuid.UUID, nickname string) (*JoinResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codes.IsValid(code) {
		return nil, fmt.Errorf("%w: malformed room code", ErrInvalidInput)
	}
	roomID, err := c.resolveCode(ctx, code)
	if err != nil {
		return nil, err
	}

	token, err := c.acquire(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer c.release(ctx, roomID, token)

	var (
		result = &JoinResult{}
		active []models.RoomMember
		room   *models.Room
	)
	err = c.inTx(ctx, func(ctx context.Context, tx *database.Database) error {
		now := c.now()
		var err error
		room, err = tx.GetRoom(ctx, roomID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if room.Status != models.RoomActive {
			return ErrInactive
		}
		if room.IsExpiredAt(now) {
			return ErrExpired
		}

		existing, err := tx.GetMember(ctx, roomID, userID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		if existing != nil && existing.IsActive() {
			return ErrAlreadyMember
		}

		count, err := tx.CountActiveMembers(ctx, roomID)
		if err != nil {
			return err
		}
		if count >= int64(room.MaxMembers) {
			return ErrRoomFull
		}

		if existing != nil {
			n, err := tx.ReactivateMember(ctx, existing.ID, nickname, now)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrConflict
			}
			existing.Status = models.MemberActive
			existing.Role = models.RoleMember
			existing.Nickname = nickname
			existing.LeftAt = nil
			existing.LastSeenAt = now
			result.Member = existing
			result.IsRejoining = true
		} else {
			// порядок входа не переиспользуется: max по всем строкам, включая покинувших
			maxOrder, err := tx.MaxJoinOrder(ctx, roomID)
			if err != nil {
				return err
			}
			member := &models.RoomMember{
				RoomID:     roomID,
				UserID:     userID,
				Nickname:   nickname,
				Role:       models.RoleMember,
				Status:     models.MemberActive,
				JoinOrder:  maxOrder + 1,
				JoinedAt:   now,
				LastSeenAt: now,
			}
			if err := tx.CreateMember(ctx, member); err != nil {
				if errors.Is(err, database.ErrDuplicate) {
					return ErrConflict
				}
				return err
			}
			result.Member = member
		}

		if err := tx.TouchRoom(ctx, roomID, now); err != nil {
			return err
		}
		room.UpdatedAt = now
		active, err = tx.ActiveMembers(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, c.wrap("join room", roomID, err)
	}

	result.Room = models.NewRoomView(room, active)
	applied, err := c.cache.AddMember(ctx, roomID, models.NewMemberView(result.Member))
	if err != nil {
		c.log.WithError(err).WithField("room_id", roomID).Warn("failed to add member to cached snapshot")
	}
	if !applied {
		c.storeSnapshot(ctx, result.Room)
	}
	c.publish(ctx, roomID, events.TypeMemberJoined, userID, models.NewMemberView(result.Member))

	c.log.WithFields(logrus.Fields{
		"room_id":   roomID,
		"user_id":   userID,
		"rejoining": result.IsRejoining,
		"order":     result.Member.JoinOrder,
	}).Info("member joined room")
	return result, nil
}

func (c *RoomCoordinator) resolveCode(ctx context.Context, code string) (uuid.UUID, error) {
	roomID, err := c.codes.Resolve(ctx, code)
	if err == nil {
		return roomID, nil
	}
	if !errors.Is(err, codes.ErrNotFound) {
		c.log.WithError(err).WithField("code", code).Warn("code cache lookup failed, falling back to database")
	}

	room, err := c.db.FindActiveRoomByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find room by code: %w", err)
	}
	if err := c.codes.Commit(ctx, code, room.ID, room.RemainingLifetime(c.now())); err != nil {
		c.log.WithError(err).WithField("code", code).Warn("failed to repopulate code mapping")
	}
	return room.ID, nil
}

type leaveOutcome struct {
	member   *models.RoomMember
	room     *models.Room
	active   []models.RoomMember
	newOwner *models.RoomMember
	closed   bool
	noop     bool
}

// LeaveRoom идемпотентен: повторный выход возвращает ту же строку без побочных эффектов.
// Уход владельца передаёт роль участнику с наименьшим порядком входа или закрывает пустую комнату.
func (c *RoomCoordinator) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error) {
	token, err := c.acquire(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer c.release(ctx, roomID, token)

	var out leaveOutcome
	for attempt := 0; attempt < maxLeaveAttempts; attempt++ {
		out = leaveOutcome{}
		err = c.inTx(ctx, func(ctx context.Context, tx *database.Database) error {
			return c.leaveTx(ctx, tx, roomID, userID, &out)
		})
		if !errors.Is(err, errStaleMember) {
			break
		}
		c.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "attempt": attempt + 1}).
			Warn("member changed during leave, retrying")
	}
	if errors.Is(err, errStaleMember) {
		return nil, fmt.Errorf("%w: leave room %s", ErrConflict, roomID)
	}
	if err != nil {
		return nil, c.wrap("leave room", roomID, err)
	}
	if out.noop {
		return out.member, nil
	}

	switch {
	case out.closed:
		c.purgeRoom(ctx, out.room, events.TypeRoomClosed)
	case out.newOwner != nil:
		c.storeSnapshot(ctx, models.NewRoomView(out.room, out.active))
		c.publish(ctx, roomID, events.TypeOwnerChanged, out.newOwner.UserID, events.OwnerChangedPayload{
			PreviousOwnerID: userID,
			OwnerID:         out.newOwner.UserID,
		})
	default:
		applied, err := c.cache.RemoveMember(ctx, roomID, userID)
		if err != nil {
			c.log.WithError(err).WithField("room_id", roomID).Warn("failed to remove member from cached snapshot")
		}
		if !applied && out.room.Status == models.RoomActive {
			c.storeSnapshot(ctx, models.NewRoomView(out.room, out.active))
		}
	}

	if err := c.presence.DropUser(ctx, roomID, userID, ReasonLeft); err != nil {
		c.log.WithError(err).WithField("room_id", roomID).Warn("failed to drop presence of departed member")
	}
	c.publish(ctx, roomID, events.TypeMemberLeft, userID, models.NewMemberView(out.member))

	c.log.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": userID,
		"closed":  out.closed,
	}).Info("member left room")
	return out.member, nil
}

func (c *RoomCoordinator) leaveTx(ctx context.Context, tx *database.Database, roomID, userID uuid.UUID, out *leaveOutcome) error {
	now := c.now()
	member, err := tx.GetMember(ctx, roomID, userID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotMember
	}
	if err != nil {
		return err
	}
	out.member = member

	switch member.Status {
	case models.MemberLeft:
		out.noop = true
		return nil
	case models.MemberActive:
	default:
		return ErrNotActive
	}

	room, err := tx.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	out.room = room

	wasOwner := member.Role == models.RoleOwner
	n, err := tx.MarkMemberLeft(ctx, member.ID, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return errStaleMember
	}
	member.Status = models.MemberLeft
	member.Role = models.RoleMember
	member.LeftAt = &now
	member.LastSeenAt = now

	if wasOwner && room.Status == models.RoomActive {
		next, err := tx.NextOwnerCandidate(ctx, roomID, userID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			if !room.CanTransition(models.RoomClosed) {
				return ErrInactive
			}
			closed, err := tx.CloseRoom(ctx, roomID, now)
			if err != nil {
				return err
			}
			if closed > 0 {
				out.closed = true
				room.Status = models.RoomClosed
				room.CompletedAt = &now
			}
		case err != nil:
			return err
		default:
			promoted, err := tx.SetMemberRole(ctx, next.ID, models.RoleOwner)
			if err != nil {
				return err
			}
			if promoted == 0 {
				return errStaleMember
			}
			next.Role = models.RoleOwner
			out.newOwner = next
		}
	}

	if !out.closed {
		if err := tx.TouchRoom(ctx, roomID, now); err != nil {
			return err
		}
		room.UpdatedAt = now
	}
	out.active, err = tx.ActiveMembers(ctx, roomID)
	return err
}

// GetRoomDetails читает снимок из кэша. Неактивный или истёкший снимок считается промахом,
// промах читается из базы и снова кладётся в кэш.
func (c *RoomCoordinator) GetRoomDetails(ctx context.Context, roomID uuid.UUID, userID *uuid.UUID) (*models.RoomView, error) {
	now := c.now()
	view, err := c.cache.Get(ctx, roomID)
	if err == nil && view.Status == models.RoomActive && (view.ExpiresAt == nil || now.Before(*view.ExpiresAt)) {
		if userID != nil && !view.HasMember(*userID) {
			return nil, ErrAccessDenied
		}
		return view, nil
	}
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		c.log.WithError(err).WithField("room_id", roomID).Warn("snapshot cache read failed")
	}

	room, err := c.db.GetRoom(ctx, roomID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	active, err := c.db.ActiveMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load members of %s: %w", roomID, err)
	}
	view = models.NewRoomView(room, active)
	if room.Status == models.RoomActive && !room.IsExpiredAt(now) {
		c.repopulate(ctx, view)
	}

	if userID != nil && !view.HasMember(*userID) {
		return nil, ErrAccessDenied
	}
	return view, nil
}

// GetUserRooms активные комнаты пользователя, недавно обновлённые первыми. Только база.
func (c *RoomCoordinator) GetUserRooms(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	rooms, err := c.db.GetUserRooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rooms of %s: %w", userID, err)
	}
	now := c.now()
	live := rooms[:0]
	for _, r := range rooms {
		if !r.IsExpiredAt(now) {
			live = append(live, r)
		}
	}
	return live, nil
}

// CleanupExpiredRooms переводит истёкшие комнаты в expired и чистит их эфемерное состояние.
// Каждая комната переводится условным обновлением, поэтому повторный проход ничего не находит.
func (c *RoomCoordinator) CleanupExpiredRooms(ctx context.Context) (int, error) {
	now := c.now()
	rooms, err := c.db.FindExpiredRooms(ctx, now, c.opts.CleanupBatch)
	if err != nil {
		return 0, fmt.Errorf("find expired rooms: %w", err)
	}

	expired := 0
	for i := range rooms {
		room := &rooms[i]
		logCtx := c.log.WithFields(logrus.Fields{"room_id": room.ID, "code": room.Code})
		if !room.CanTransition(models.RoomExpired) {
			continue
		}

		n, err := c.db.ExpireRoom(ctx, room.ID, now)
		if err != nil {
			logCtx.WithError(err).Error("failed to expire room")
			continue
		}
		if n == 0 {
			continue
		}
		expired++
		room.Status = models.RoomExpired
		room.CompletedAt = &now
		c.purgeRoom(ctx, room, events.TypeRoomExpired)
	}

	if expired > 0 {
		c.log.WithFields(logrus.Fields{"expired": expired, "candidates": len(rooms)}).Info("expired rooms cleaned up")
	}
	return expired, nil
}

// IsActiveMember проверка участия по базе
func (c *RoomCoordinator) IsActiveMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error) {
	return c.membership.IsActiveMember(ctx, roomID, userID)
}

// TransferOwnership владелец передаёт роль другому активному участнику
func (c *RoomCoordinator) TransferOwnership(ctx context.Context, roomID, ownerID, targetID uuid.UUID) (*models.RoomView, error) {
	if ownerID == targetID {
		return nil, fmt.Errorf("%w: cannot transfer ownership to yourself", ErrInvalidInput)
	}
	token, err := c.acquire(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer c.release(ctx, roomID, token)

	var (
		room   *models.Room
		active []models.RoomMember
	)
	err = c.inTx(ctx, func(ctx context.Context, tx *database.Database) error {
		now := c.now()
		var err error
		if room, err = c.activeRoom(ctx, tx, roomID, now); err != nil {
			return err
		}

		owner, err := tx.GetMember(ctx, roomID, ownerID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrAccessDenied
		}
		if err != nil {
			return err
		}
		if !owner.IsOwner() {
			return ErrAccessDenied
		}

		target, err := tx.GetMember(ctx, roomID, targetID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotMember
		}
		if err != nil {
			return err
		}
		if !target.IsActive() {
			return ErrNotMember
		}

		if n, err := tx.SetMemberRole(ctx, owner.ID, models.RoleMember); err != nil || n == 0 {
			return conflictOr(err)
		}
		if n, err := tx.SetMemberRole(ctx, target.ID, models.RoleOwner); err != nil || n == 0 {
			return conflictOr(err)
		}
		if err := tx.TouchRoom(ctx, roomID, now); err != nil {
			return err
		}
		room.UpdatedAt = now
		active, err = tx.ActiveMembers(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, c.wrap("transfer ownership", roomID, err)
	}

	view := models.NewRoomView(room, active)
	c.storeSnapshot(ctx, view)
	c.publish(ctx, roomID, events.TypeOwnerChanged, targetID, events.OwnerChangedPayload{
		PreviousOwnerID: ownerID,
		OwnerID:         targetID,
	})
	return view, nil
}

// CloseRoom владелец досрочно завершает комнату
func (c *RoomCoordinator) CloseRoom(ctx context.Context, roomID, ownerID uuid.UUID) error {
	token, err := c.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer c.release(ctx, roomID, token)

	var room *models.Room
	err = c.inTx(ctx, func(ctx context.Context, tx *database.Database) error {
		now := c.now()
		var err error
		if room, err = c.activeRoom(ctx, tx, roomID, now); err != nil {
			return err
		}
		owner, err := tx.GetMember(ctx, roomID, ownerID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrAccessDenied
		}
		if err != nil {
			return err
		}
		if !owner.IsOwner() {
			return ErrAccessDenied
		}
		if !room.CanTransition(models.RoomClosed) {
			return ErrInactive
		}
		n, err := tx.CloseRoom(ctx, roomID, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrInactive
		}
		room.Status = models.RoomClosed
		room.CompletedAt = &now
		return nil
	})
	if err != nil {
		return c.wrap("close room", roomID, err)
	}

	c.purgeRoom(ctx, room, events.TypeRoomClosed)
	c.log.WithFields(logrus.Fields{"room_id": roomID, "owner": ownerID}).Info("room closed by owner")
	return nil
}

// Touch обновляет last_seen_at участника
func (c *RoomCoordinator) Touch(ctx context.Context, roomID, userID uuid.UUID) error {
	return c.db.TouchMember(ctx, roomID, userID, c.now())
}

func (c *RoomCoordinator) activeRoom(ctx context.Context, tx *database.Database, roomID uuid.UUID, now time.Time) (*models.Room, error) {
	room, err := tx.GetRoom(ctx, roomID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomActive {
		return nil, ErrInactive
	}
	if room.IsExpiredAt(now) {
		return nil, ErrExpired
	}
	return room, nil
}

// inTx транзакция с таймаутом; истечение таймаута превращается в ErrTransactionTimeout
func (c *RoomCoordinator) inTx(ctx context.Context, fn func(ctx context.Context, tx *database.Database) error) error {
	txCtx, cancel := context.WithTimeout(ctx, c.opts.TxTimeout)
	defer cancel()

	err := c.db.Transaction(txCtx, func(tx *database.Database) error {
		return fn(txCtx, tx)
	})
	if err != nil && (errors.Is(err, context.DeadlineExceeded) ||
		(errors.Is(txCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil)) {
		return fmt.Errorf("%w: %v", ErrTransactionTimeout, err)
	}
	return err
}

func (c *RoomCoordinator) acquire(ctx context.Context, roomID uuid.UUID) (string, error) {
	token, err := c.locker.AcquireWithin(ctx, lock.RoomKey(roomID), c.opts.LockTTL, c.opts.LockWait)
	if errors.Is(err, lock.ErrBusy) {
		return "", fmt.Errorf("%w: room %s", ErrBusy, roomID)
	}
	if err != nil {
		return "", fmt.Errorf("acquire room lock: %w", err)
	}
	return token, nil
}

func (c *RoomCoordinator) release(ctx context.Context, roomID uuid.UUID, token string) {
	if err := c.locker.Release(context.WithoutCancel(ctx), lock.RoomKey(roomID), token); err != nil {
		c.log.WithError(err).WithField("room_id", roomID).Warn("failed to release room lock")
	}
}

func (c *RoomCoordinator) storeSnapshot(ctx context.Context, view *models.RoomView) {
	if err := c.cache.Store(ctx, view); err != nil {
		c.log.WithError(err).WithField("room_id", view.ID).Warn("failed to refresh room snapshot")
	}
}

// repopulate кладёт прочитанный из базы снимок, не перетирая записанный мутацией.
// Завершение комнаты могло закоммититься после чтения: тогда свежую запись снимаем.
func (c *RoomCoordinator) repopulate(ctx context.Context, view *models.RoomView) {
	logCtx := c.log.WithField("room_id", view.ID)
	written, err := c.cache.StoreIfAbsent(ctx, view)
	if err != nil {
		logCtx.WithError(err).Warn("failed to repopulate room snapshot")
		return
	}
	if !written {
		return
	}
	room, err := c.db.GetRoom(ctx, view.ID)
	if err == nil && room.Status == models.RoomActive {
		return
	}
	if err != nil {
		logCtx.WithError(err).Warn("failed to recheck room after repopulate")
	}
	if err := c.cache.Invalidate(context.WithoutCancel(ctx), view.ID); err != nil {
		logCtx.WithError(err).Warn("failed to drop repopulated snapshot")
	}
}

// purgeRoom сносит всё производное состояние завершённой комнаты и сообщает подписчикам
func (c *RoomCoordinator) purgeRoom(ctx context.Context, room *models.Room, reason events.Type) {
	logCtx := c.log.WithFields(logrus.Fields{"room_id": room.ID, "reason": reason})
	ctx = context.WithoutCancel(ctx)

	if err := c.cache.Invalidate(ctx, room.ID); err != nil {
		logCtx.WithError(err).Warn("failed to invalidate room snapshot")
	}
	if err := c.codes.Forget(ctx, room.Code); err != nil {
		logCtx.WithError(err).Warn("failed to drop code mapping")
	}
	if err := c.presence.PurgeRoom(ctx, room.ID); err != nil {
		logCtx.WithError(err).Warn("failed to purge room locations")
	}
	if err := c.chat.Purge(ctx, room.ID); err != nil {
		logCtx.WithError(err).Warn("failed to purge room chat")
	}
	c.publish(ctx, room.ID, reason, uuid.Nil, models.NewRoomView(room, nil))
}

func (c *RoomCoordinator) publish(ctx context.Context, roomID uuid.UUID, t events.Type, userID uuid.UUID, data interface{}) {
	evt, err := events.New(t, roomID, userID, data)
	if err != nil {
		c.log.WithError(err).WithField("event", t).Error("failed to build event")
		return
	}
	if err := c.publisher.Publish(ctx, roomID, evt); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "event": t}).Warn("failed to publish event")
	}
}

// wrap добавляет контекст операции, сохраняя сигнальные ошибки для errors.Is
func (c *RoomCoordinator) wrap(op string, roomID uuid.UUID, err error) error {
	return fmt.Errorf("%s %s: %w", op, roomID, err)
}

func conflictOr(err error) error {
	if err != nil {
		return err
	}
	return ErrConflict
}
