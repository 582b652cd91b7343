package tagstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/rfidctl/internal/reader"
	"github.com/danmuck/rfidctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "tags.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAggregatesByTag(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	sightings := []reader.Tag{
		{ID: "E200A", Antenna: 0, ReadCount: 2, LastSeen: base},
		{ID: "E200A", Antenna: 1, ReadCount: 3, LastSeen: base.Add(1500 * time.Millisecond)},
		{ID: "E200A", Antenna: 1, ReadCount: 1, LastSeen: base.Add(time.Second)},
		{ID: "E200B", ReadCount: 0, LastSeen: base.Add(time.Minute)},
	}
	for _, tag := range sightings {
		if err := store.Record(ctx, tag); err != nil {
			t.Fatalf("record %+v: %v", tag, err)
		}
	}

	n, err := store.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	list, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].TagID != "E200B" {
		t.Fatalf("expected most recent first: %+v", list)
	}
	a := list[1]
	if a.Reads != 6 || a.Sightings != 3 || a.Antenna != 1 {
		t.Fatalf("unexpected aggregate: %+v", a)
	}
	if !a.FirstSeen.Equal(base) || !a.LastSeen.Equal(base.Add(1500*time.Millisecond)) {
		t.Fatalf("unexpected window first=%s last=%s", a.FirstSeen, a.LastSeen)
	}
	if list[0].Reads != 1 {
		t.Fatalf("zero read count should record one read: %+v", list[0])
	}

	limited, err := store.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited list: %+v %v", limited, err)
	}
}

func TestRecordRejectsEmptyID(t *testing.T) {
	testlog.Start(t)
	store := openTestStore(t)
	if err := store.Record(context.Background(), reader.Tag{}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	testlog.Start(t)
	store := openTestStore(t)
	if err := ApplyMigrations(context.Background(), store.db); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
}

func TestConsumeDrainsChannel(t *testing.T) {
	testlog.Start(t)
	store := openTestStore(t)
	tags := make(chan reader.Tag, 3)
	tags <- reader.Tag{ID: "E1", LastSeen: time.Now()}
	tags <- reader.Tag{ID: "E2", LastSeen: time.Now()}
	tags <- reader.Tag{ID: ""}
	close(tags)

	store.Consume(context.Background(), tags, zerolog.Nop())
	n, err := store.Count(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}
