package market

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"triarb/internal/model"
)

func TestStore_ReplaceIsWholesale(t *testing.T) {
	store := NewStore()
	t0 := time.Unix(1700000000, 0)

	store.Replace(map[string]model.Quote{
		"BTCUSDT": {Symbol: "BTCUSDT", Bid: 100, Ask: 101},
		"ETHBTC":  {Symbol: "ETHBTC", Bid: 0.05, Ask: 0.051},
	}, t0)
	require.Equal(t, 2, store.Snapshot().Len())

	store.Replace(map[string]model.Quote{
		"ETHUSDT": {Symbol: "ETHUSDT", Bid: 5, Ask: 5.1},
	}, t0.Add(time.Second))

	_, ok := store.Quote("BTCUSDT")
	assert.False(t, ok, "old quotes must not survive a replace")
	q, ok := store.Quote("ETHUSDT")
	assert.True(t, ok)
	assert.Equal(t, 5.0, q.Bid)
	assert.Equal(t, t0.Add(time.Second), store.Snapshot().At())
}

func TestStore_ReplaceNil(t *testing.T) {
	store := NewStore()
	_, ok := store.Quote("BTCUSDT")
	assert.False(t, ok)

	store.Replace(nil, time.Now())
	assert.Equal(t, 0, store.Snapshot().Len())
}

func TestStore_SnapshotSurvivesReplace(t *testing.T) {
	store := NewStore()
	store.Replace(map[string]model.Quote{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 1, Ask: 2}}, time.Now())

	snap := store.Snapshot()
	store.Replace(map[string]model.Quote{}, time.Now())

	q, ok := snap.Quote("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 2.0, q.Ask)
	assert.Equal(t, 0, store.Snapshot().Len())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Replace(map[string]model.Quote{"X": {Symbol: "X", Bid: float64(i)}}, time.Now())
		}(i)
		go func() {
			defer wg.Done()
			_ = store.Snapshot().Len()
			_, _ = store.Quote("X")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.Snapshot().Len())
}
