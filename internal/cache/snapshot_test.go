package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/convoy/internal/cache"
	"github.com/thereayou/convoy/internal/models"
	"github.com/thereayou/convoy/internal/testfixtures"
)

func sampleView() *models.RoomView {
	now := testfixtures.ReferenceTime()
	expires := now.Add(2 * time.Hour)
	owner := uuid.New()
	member := uuid.New()
	return &models.RoomView{
		ID:          uuid.New(),
		Code:        "K7Q2ZP",
		Name:        "Ski trip",
		Destination: models.Destination{Name: "Chamonix", Latitude: 45.92, Longitude: 6.87},
		CreatedBy:   owner,
		OwnerID:     owner,
		MaxMembers:  4,
		Status:      models.RoomActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   &expires,
		MemberCount: 2,
		Members: []models.MemberView{
			{UserID: member, Nickname: "bob", Role: models.RoleMember, JoinOrder: 2, JoinedAt: now},
			{UserID: owner, Nickname: "alice", Role: models.RoleOwner, JoinOrder: 1, JoinedAt: now},
		},
	}
}

func TestStoreAndGet(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	c := cache.NewSnapshotCache(rdb, "", time.Hour, testfixtures.Logger())
	ctx := context.Background()
	view := sampleView()

	_, err := c.Get(ctx, view.ID)
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Store(ctx, view))
	assert.Equal(t, time.Hour, mr.TTL("room:"+view.ID.String()+":snapshot"))
	assert.Equal(t, time.Hour, mr.TTL("room:"+view.ID.String()+":members"))

	got, err := c.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.Code, got.Code)
	assert.Equal(t, 2, got.MemberCount)
	assert.Equal(t, view.OwnerID, got.OwnerID)
	require.Len(t, got.Members, 2)
	assert.Equal(t, 1, got.Members[0].JoinOrder, "members sorted by join order")
	assert.True(t, got.ExpiresAt.Equal(*view.ExpiresAt))
}

func TestMemberDeltasRefreshTTL(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	c := cache.NewSnapshotCache(rdb, "", time.Hour, testfixtures.Logger())
	ctx := context.Background()
	view := sampleView()
	require.NoError(t, c.Store(ctx, view))

	mr.FastForward(30 * time.Minute)
	newcomer := models.MemberView{UserID: uuid.New(), Nickname: "carol", Role: models.RoleMember, JoinOrder: 3}
	applied, err := c.AddMember(ctx, view.ID, newcomer)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, time.Hour, mr.TTL("room:"+view.ID.String()+":snapshot"))

	fields, err := mr.HKeys("room:" + view.ID.String() + ":members")
	require.NoError(t, err)
	assert.Len(t, fields, 3)

	applied, err = c.RemoveMember(ctx, view.ID, view.Members[0].UserID)
	require.NoError(t, err)
	assert.True(t, applied)
	got, err := c.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)
	assert.False(t, got.HasMember(view.Members[0].UserID))
	assert.True(t, got.HasMember(newcomer.UserID))
}

func TestMemberDeltaWithoutSnapshotIsSkipped(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	c := cache.NewSnapshotCache(rdb, "", time.Hour, testfixtures.Logger())
	ctx := context.Background()
	roomID := uuid.New()

	applied, err := c.AddMember(ctx, roomID, models.MemberView{UserID: uuid.New(), JoinOrder: 1})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, mr.Exists("room:"+roomID.String()+":members"))

	applied, err = c.RemoveMember(ctx, roomID, uuid.New())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMalformedSnapshotIsRepaired(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	c := cache.NewSnapshotCache(rdb, "", time.Hour, testfixtures.Logger())
	ctx := context.Background()
	view := sampleView()
	require.NoError(t, c.Store(ctx, view))

	key := "room:" + view.ID.String() + ":snapshot"
	require.NoError(t, mr.Set(key, `{"v":1,"room":{"id":"`+view.ID.String()+`","code":"??","max_members":4,"status":"active"}}`))

	_, err := c.Get(ctx, view.ID)
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.False(t, mr.Exists(key))
	assert.False(t, mr.Exists("room:"+view.ID.String()+":members"))

	require.NoError(t, c.Store(ctx, view))
	require.NoError(t, mr.Set(key, "{not json"))
	_, err = c.Get(ctx, view.ID)
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.False(t, mr.Exists(key))
}

func TestSnapshotWithoutMembersIsMiss(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	c := cache.NewSnapshotCache(rdb, "", time.Hour, testfixtures.Logger())
	ctx := context.Background()
	view := sampleView()
	require.NoError(t, c.Store(ctx, view))
	mr.Del("room:" + view.ID.String() + ":members")

	_, err := c.Get(ctx, view.ID)
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestStoreIfAbsentKeepsExistingSnapshot(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	c := cache.NewSnapshotCache(rdb, "", time.Hour, testfixtures.Logger())
	ctx := context.Background()
	view := sampleView()

	written, err := c.StoreIfAbsent(ctx, view)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, time.Hour, mr.TTL("room:"+view.ID.String()+":snapshot"))
	assert.Equal(t, time.Hour, mr.TTL("room:"+view.ID.String()+":members"))
	got, err := c.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)

	newcomer := models.MemberView{UserID: uuid.New(), Nickname: "carol", Role: models.RoleMember, JoinOrder: 3}
	fresher := *view
	fresher.Members = append(append([]models.MemberView(nil), view.Members...), newcomer)
	require.NoError(t, c.Store(ctx, &fresher))

	written, err = c.StoreIfAbsent(ctx, view)
	require.NoError(t, err)
	assert.False(t, written)
	got, err = c.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MemberCount)
	assert.True(t, got.HasMember(newcomer.UserID))
}

func TestInvalidate(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	c := cache.NewSnapshotCache(rdb, "cv:", time.Hour, testfixtures.Logger())
	ctx := context.Background()
	view := sampleView()
	require.NoError(t, c.Store(ctx, view))
	assert.True(t, mr.Exists("cv:room:"+view.ID.String()+":snapshot"))

	require.NoError(t, c.Invalidate(ctx, view.ID))
	_, err := c.Get(ctx, view.ID)
	assert.ErrorIs(t, err, cache.ErrMiss)
}
