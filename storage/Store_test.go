package storage

import (
	"testing"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T, clk clock.Clock) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clk clock.Clock) Store {
			return NewMemoryStore(clk)
		},
		"badger": func(t *testing.T, clk clock.Clock) Store {
			s, err := OpenBadger(BadgerOptions{Clock: clk})
			require.NoError(t, err)
			return s
		},
		"badger_on_disk": func(t *testing.T, clk clock.Clock) Store {
			s, err := OpenBadger(BadgerOptions{Dir: t.TempDir(), Clock: clk})
			require.NoError(t, err)
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clk *clock.Mock)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewMock()
			clk.Set(time.Now())
			s := factory(t, clk)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, clk)
		})
	}
}

func Test_Put_Get_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Mock) {
		key := types.HashKey("gid-1")
		publisher := types.NewRandomID()
		require.NoError(t, s.Put(Record{
			Key:       key,
			Value:     []byte("envelope"),
			Expiry:    clk.Now().Add(time.Hour),
			Publisher: publisher,
			StoredAt:  clk.Now(),
		}))

		rec, ok, err := s.Get(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("envelope"), rec.Value)
		assert.Equal(t, publisher, rec.Publisher)
		assert.Equal(t, key, rec.Key)
		assert.Equal(t, time.Hour, rec.TTL(clk.Now()).Round(time.Second))

		require.NoError(t, s.Put(Record{Key: key, Value: []byte("newer"), Expiry: clk.Now().Add(time.Hour)}))
		rec, ok, err = s.Get(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("newer"), rec.Value)

		require.NoError(t, s.Delete(key))
		_, ok, err = s.Get(key)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.Get(types.HashKey("never"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func Test_Expired_Records_Are_Hidden_And_Dropped(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Mock) {
		short := types.HashKey("short")
		long := types.HashKey("long")
		require.NoError(t, s.Put(Record{Key: short, Value: []byte("a"), Expiry: clk.Now().Add(time.Minute)}))
		require.NoError(t, s.Put(Record{Key: long, Value: []byte("b"), Expiry: clk.Now().Add(time.Hour)}))

		clk.Add(2 * time.Minute)
		_, ok, err := s.Get(short)
		require.NoError(t, err)
		assert.False(t, ok)

		var seen []types.NodeID
		require.NoError(t, s.Range(func(rec Record) bool {
			seen = append(seen, rec.Key)
			return true
		}))
		assert.Equal(t, []types.NodeID{long}, seen)

		n, err := s.DeleteExpired(clk.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.DeleteExpired(clk.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func Test_Range_Stops_Early(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Mock) {
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Put(Record{Key: types.NewRandomID(), Value: []byte{byte(i)}, Expiry: clk.Now().Add(time.Hour)}))
		}
		calls := 0
		require.NoError(t, s.Range(func(Record) bool {
			calls++
			return calls < 2
		}))
		assert.Equal(t, 2, calls)
	})
}

func Test_Closed_Store_Fails(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, clock.NewMock())
			require.NoError(t, s.Close())
			_, _, err := s.Get(types.HashKey("x"))
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func Test_Badger_Store_Survives_Reopen(t *testing.T) {
	dir := t.TempDir()
	key := types.HashKey("persisted")

	s, err := OpenBadger(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(Record{Key: key, Value: []byte("v"), Expiry: time.Now().Add(time.Hour)}))
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	rec, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), rec.Value)
}
