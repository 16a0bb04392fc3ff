package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doublelife/doublelife-kit/pkg/errors"
)

func sampleRecord() Record {
	return Record{
		Identity:         uuid.New(),
		Name:             "Steve",
		Mode:             "TURBO",
		StartTime:        time.Date(2026, 7, 1, 13, 45, 30, 250_000_000, time.Local),
		ExtensionMinutes: 5,
		BaseDuration:     10 * time.Minute,
		Snapshot:         []byte(`{"game_mode":"SURVIVAL"}`),
	}
}

func TestStartTime_LocalRoundTrip(t *testing.T) {
	in := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	s := FormatStartTime(in)
	assert.Equal(t, "2026-01-02T03:04:05", s)

	out, err := ParseStartTime(s)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	_, err = ParseStartTime("2026-01-02 03:04")
	assert.Error(t, err)
}

func TestCodecs(t *testing.T) {
	for name, codec := range map[string]Codec{"json": JSON, "yaml": YAML} {
		t.Run(name, func(t *testing.T) {
			r := sampleRecord()
			data, err := codec.Marshal(r)
			require.NoError(t, err)
			assert.Contains(t, string(data), "2026-07-01T13:45:30.25")

			back, err := codec.Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, r.Identity, back.Identity)
			assert.Equal(t, r.Mode, back.Mode)
			assert.True(t, r.StartTime.Equal(back.StartTime))
			assert.Equal(t, r.ExtensionMinutes, back.ExtensionMinutes)
			assert.Equal(t, r.BaseDuration, back.BaseDuration)
			assert.Equal(t, r.Snapshot, back.Snapshot)
		})
	}
}

func TestCodec_RejectsInvalidRecords(t *testing.T) {
	tests := map[string]string{
		"not json":           `{{`,
		"bad identity":       `{"identity":"nope","mode":"DEFAULT","startTime":"2026-01-01T00:00:00","snapshot":""}`,
		"missing mode":       `{"identity":"` + uuid.NewString() + `","startTime":"2026-01-01T00:00:00","snapshot":""}`,
		"zoned start time":   `{"identity":"` + uuid.NewString() + `","mode":"DEFAULT","startTime":"2026-01-01T00:00:00Z","snapshot":""}`,
		"negative extension": `{"identity":"` + uuid.NewString() + `","mode":"DEFAULT","startTime":"2026-01-01T00:00:00","extensionMinutes":-1,"snapshot":""}`,
		"bad snapshot":       `{"identity":"` + uuid.NewString() + `","mode":"DEFAULT","startTime":"2026-01-01T00:00:00","snapshot":"%%%"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := JSON.Unmarshal([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func storesUnderTest(t *testing.T) map[string]func() (RecordStore, Codec) {
	return map[string]func() (RecordStore, Codec){
		"memory": func() (RecordStore, Codec) { return NewMemoryStore(), JSON },
		"bolt": func() (RecordStore, Codec) {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "sessions.db"))
			require.NoError(t, err)
			return s, JSON
		},
		"dir": func() (RecordStore, Codec) {
			s, err := NewDirStore(filepath.Join(t.TempDir(), "sessions"))
			require.NoError(t, err)
			return s, YAML
		},
		"redis": func() (RecordStore, Codec) {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStoreFromClient(client, "doublelife:session:"), JSON
		},
	}
}

func TestRecordStores_Contract(t *testing.T) {
	ctx := context.Background()
	for name, build := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := build()
			defer store.Close()

			_, err := store.Get(ctx, "missing")
			assert.True(t, errors.IsCode(err, errors.CodeNotFound))

			require.NoError(t, store.Put(ctx, "b", []byte("two")))
			require.NoError(t, store.Put(ctx, "a", []byte("one")))
			require.NoError(t, store.Put(ctx, "a", []byte("uno")))

			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, keys)

			data, err := store.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "uno", string(data))

			require.NoError(t, store.Delete(ctx, "a"))
			require.NoError(t, store.Delete(ctx, "a"))
			keys, err = store.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, keys)
		})
	}
}

func TestGateway_SaveThenLoadPendingConsumes(t *testing.T) {
	ctx := context.Background()
	for name, build := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			store, codec := build()
			g := NewGateway(store, codec, zerolog.Nop())
			defer g.Close()

			r1, r2 := sampleRecord(), sampleRecord()
			r2.Mode = "DEFAULT"
			r2.ExtensionMinutes = 0

			saved, err := g.SaveAll(ctx, []Record{r1, r2})
			require.NoError(t, err)
			assert.Equal(t, 2, saved)

			listed, err := g.List(ctx)
			require.NoError(t, err)
			assert.Len(t, listed, 2)

			loaded, err := g.LoadPending(ctx)
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			byID := map[string]Record{}
			for _, r := range loaded {
				byID[r.Key()] = r
			}
			assert.Equal(t, "TURBO", byID[r1.Key()].Mode)
			assert.True(t, r1.StartTime.Equal(byID[r1.Key()].StartTime))
			assert.Equal(t, 0, byID[r2.Key()].ExtensionMinutes)

			again, err := g.LoadPending(ctx)
			require.NoError(t, err)
			assert.Empty(t, again, "records are consumed by the first load")
		})
	}
}

func TestGateway_CorruptRecordIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	g := NewGateway(store, JSON, zerolog.Nop())

	good := sampleRecord()
	require.NoError(t, g.Save(ctx, good))
	require.NoError(t, store.Put(ctx, uuid.NewString(), []byte("garbage")))

	loaded, err := g.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, good.Identity, loaded[0].Identity)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "corrupt records are deleted too")
}
