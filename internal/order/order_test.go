package order

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nexadex/swapflow/pkg/errors"
)

func testStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return NewGormStore(db)
}

func TestValidTransitions(t *testing.T) {
	valid := [][2]string{
		{StatusPending, StatusRouting},
		{StatusRouting, StatusBuilding},
		{StatusBuilding, StatusSubmitted},
		{StatusSubmitted, StatusConfirmed},
		{StatusPending, StatusFailed},
		{StatusRouting, StatusFailed},
		{StatusBuilding, StatusFailed},
		{StatusSubmitted, StatusFailed},
	}
	for _, tr := range valid {
		assert.True(t, ValidTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]string{
		{StatusPending, StatusBuilding},
		{StatusPending, StatusConfirmed},
		{StatusConfirmed, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusConfirmed, StatusRouting},
	}
	for _, tr := range invalid {
		assert.False(t, ValidTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusConfirmed))
	assert.True(t, IsTerminal(StatusFailed))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusSubmitted))
}

func TestStoreCreateSetsPendingAndHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	o := &Order{TokenIn: "A", TokenOut: "B", AmountIn: 1_000_000, Slippage: 0.01}
	require.NoError(t, store.Create(ctx, o))
	require.NotEqual(t, uuid.Nil, o.ID)
	assert.Equal(t, StatusPending, o.Status)

	history, err := store.GetStatusHistory(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusPending, history[0].Status)
}

func TestStoreUpdateStatusAppliesPatch(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	o := &Order{TokenIn: "A", TokenOut: "B", AmountIn: 1_000_000, Slippage: 0.01}
	require.NoError(t, store.Create(ctx, o))

	venueName := "orca"
	require.NoError(t, store.UpdateStatus(ctx, o.ID, StatusRouting, Patch{}))
	require.NoError(t, store.UpdateStatus(ctx, o.ID, StatusBuilding, Patch{ChosenVenue: &venueName}))

	tx := "5Kd7zzz"
	require.NoError(t, store.UpdateStatus(ctx, o.ID, StatusSubmitted, Patch{TxID: &tx}))

	price := decimal.NewFromFloat(1.005)
	in, out := int64(1_000_000), int64(1_005_000)
	require.NoError(t, store.UpdateStatus(ctx, o.ID, StatusConfirmed, Patch{
		ExecutedPrice: &price, ExecutedIn: &in, ExecutedOut: &out,
	}))

	got, err := store.FindByID(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.ChosenVenue)
	assert.Equal(t, "orca", *got.ChosenVenue)
	require.NotNil(t, got.TxID)
	assert.Equal(t, tx, *got.TxID)
	require.NotNil(t, got.ExecutedOut)
	assert.Equal(t, int64(1_005_000), *got.ExecutedOut)
	assert.NotNil(t, got.ConfirmedAt)

	history, err := store.GetStatusHistory(ctx, o.ID)
	require.NoError(t, err)
	statuses := make([]string, 0, len(history))
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []string{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed}, statuses)

	// The recorded path is a valid walk of the state machine.
	for i := 1; i < len(statuses); i++ {
		assert.True(t, ValidTransition(statuses[i-1], statuses[i]))
	}
}

func TestStoreUpdateStatusUnknownOrder(t *testing.T) {
	store := testStore(t)
	err := store.UpdateStatus(context.Background(), uuid.New(), StatusRouting, Patch{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSystem))
}

func TestStoreFindRecentOrdersNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		o := &Order{TokenIn: "A", TokenOut: "B", AmountIn: int64(i + 1), Slippage: 0}
		require.NoError(t, store.Create(ctx, o))
		ids = append(ids, o.ID)
		time.Sleep(5 * time.Millisecond)
	}

	got, err := store.FindRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestStoreFindByIDMiss(t *testing.T) {
	store := testStore(t)
	got, err := store.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	ctx := context.Background()

	o := &Order{ID: uuid.New(), TokenIn: "A", TokenOut: "B", Status: StatusRouting}
	require.NoError(t, cache.Set(ctx, o, 0))

	got, err := cache.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusRouting, got.Status)

	exists, err := cache.Exists(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cache.Delete(ctx, o.ID))
	got, err = cache.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deletion is idempotent.
	require.NoError(t, cache.Delete(ctx, o.ID))
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	cache := NewMemoryCache(10 * time.Millisecond)
	ctx := context.Background()
	o := &Order{ID: uuid.New(), Status: StatusPending}
	require.NoError(t, cache.Set(ctx, o, 0))
	time.Sleep(20 * time.Millisecond)
	got, err := cache.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheKey(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "order:inflight:"+id.String(), cacheKey(id))
}
