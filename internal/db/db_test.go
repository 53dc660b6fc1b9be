package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *CheckStore {
	t.Helper()
	database, err := NewDatabase(filepath.Join(t.TempDir(), "data", "checks.db"))
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := NewCheckStore(database)
	if err != nil {
		t.Fatalf("NewCheckStore failed: %v", err)
	}
	return store
}

func TestRecordCheckDeduplicatesShines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	tests := []struct {
		name     string
		kind     string
		location int32
		itemName string
		want     bool
	}{
		{"first shine", KindShine, 42, "", true},
		{"repeat shine", KindShine, 42, "", false},
		{"other shine", KindShine, 7, "", true},
		{"item", KindItem, 3, "Cap Throw", true},
		{"repeat item", KindItem, 3, "Cap Throw", true},
		{"filler", KindFiller, 1, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.RecordCheck(ctx, id, tt.kind, tt.location, tt.itemName)
			if err != nil {
				t.Fatalf("RecordCheck failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("RecordCheck = %v, want %v", got, tt.want)
			}
		})
	}

	counts, err := store.Counts(ctx, id)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts[KindShine] != 2 || counts[KindItem] != 2 || counts[KindFiller] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRecordShines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := store.RecordCheck(ctx, id, KindShine, 5, ""); err != nil {
		t.Fatalf("RecordCheck failed: %v", err)
	}

	added, err := store.RecordShines(ctx, id, []int32{9, 5, 1, 9})
	if err != nil {
		t.Fatalf("RecordShines failed: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	shines, err := store.CollectedShines(ctx, id)
	if err != nil {
		t.Fatalf("CollectedShines failed: %v", err)
	}
	want := []int32{1, 5, 9}
	if len(shines) != len(want) {
		t.Fatalf("shines = %v, want %v", shines, want)
	}
	for i := range want {
		if shines[i] != want[i] {
			t.Errorf("shines[%d] = %d, want %d", i, shines[i], want[i])
		}
	}

	other, err := store.CollectedShines(ctx, uuid.New())
	if err != nil {
		t.Fatalf("CollectedShines failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("shines leaked across clients: %v", other)
	}
}

func TestChecksFilterAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	store.RecordCheck(ctx, id, KindItem, 1, "Jump")
	store.RecordCheck(ctx, id, KindShine, 10, "")
	store.RecordCheck(ctx, id, KindItem, 2, "Dive")

	all, err := store.Checks(ctx, id, "", 0)
	if err != nil {
		t.Fatalf("Checks failed: %v", err)
	}
	if len(all) != 3 || all[0].Name != "Jump" || all[1].Kind != KindShine {
		t.Errorf("unexpected checks: %+v", all)
	}

	items, err := store.Checks(ctx, id, KindItem, 1)
	if err != nil {
		t.Fatalf("Checks failed: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Jump" || items[0].ClientID != id {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestClientRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	rec, err := store.Client(ctx, id)
	if err != nil || rec != nil {
		t.Fatalf("unknown client = %+v, %v", rec, err)
	}

	if err := store.TouchClient(ctx, id, "10.0.0.2:5000"); err != nil {
		t.Fatalf("TouchClient failed: %v", err)
	}
	if err := store.TouchClient(ctx, id, "10.0.0.3:5000"); err != nil {
		t.Fatalf("TouchClient failed: %v", err)
	}
	if err := store.UpdateProgress(ctx, id, 4, 2); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	rec, err = store.Client(ctx, id)
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	if rec.Connects != 2 || rec.Remote != "10.0.0.3:5000" {
		t.Errorf("rec = %+v", rec)
	}
	if rec.World != 4 || rec.Scenario != 2 {
		t.Errorf("progress = %d/%d, want 4/2", rec.World, rec.Scenario)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.db")
	id := uuid.New()
	ctx := context.Background()

	first, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	store, err := NewCheckStore(first)
	if err != nil {
		t.Fatalf("NewCheckStore failed: %v", err)
	}
	store.RecordCheck(ctx, id, KindShine, 77, "")
	first.Close()

	second, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()
	store, err = NewCheckStore(second)
	if err != nil {
		t.Fatalf("NewCheckStore failed: %v", err)
	}
	shines, _ := store.CollectedShines(ctx, id)
	if len(shines) != 1 || shines[0] != 77 {
		t.Errorf("shines after reopen = %v", shines)
	}
}
