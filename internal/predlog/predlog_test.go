package predlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fractal-lba/healthxai/internal/api"
)

func testRecord(model string, prob float64) *Record {
	in := api.MustInputRow([]string{"BMI", "Smoking"}, []api.Value{api.Num(25), api.Cat("No")})
	return NewRecord(model, 0, "No", prob, in)
}

func exerciseStore(t *testing.T, s Store) []*Record {
	t.Helper()
	ctx := context.Background()

	recs := []*Record{testRecord("log_reg", 0.1), testRecord("random_forest", 0.2), testRecord("knn", 0.3)}
	for _, r := range recs {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// duplicate ID is ignored
	if err := s.Append(ctx, recs[0]); err != nil {
		t.Fatalf("Append duplicate: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	got, err := s.Get(ctx, recs[1].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Model != "random_forest" {
		t.Errorf("Get model = %q, want random_forest", got.Model)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}

	list, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != recs[2].ID || list[1].ID != recs[1].ID {
		t.Errorf("List(2,0) not newest first: %+v", list)
	}

	list, err = s.List(ctx, 10, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != recs[0].ID {
		t.Errorf("List(10,2) = %d records, want oldest only", len(list))
	}

	list, _ = s.List(ctx, 5, 10)
	if len(list) != 0 {
		t.Errorf("List past end = %d records, want 0", len(list))
	}
	return recs
}

func TestMemoryStore(t *testing.T) {
	s, err := NewMemoryStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestMemoryStore_Snapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.json")

	s, err := NewMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	recs := exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(context.Background(), recs[2].ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if v, _ := got.Input.Get("BMI"); v.Num != 25 {
		t.Errorf("input BMI = %v, want 25", v.Num)
	}
}

func TestFileStore_ReplaysOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "predictions.jsonl")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	recs := exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// a torn trailing line must not break replay
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"id":"torn","mod`)
	f.Close()

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	n, _ := reopened.Count(context.Background())
	if n != 3 {
		t.Errorf("Count after replay = %d, want 3", n)
	}
	list, _ := reopened.List(context.Background(), 1, 0)
	if len(list) != 1 || list[0].ID != recs[2].ID {
		t.Errorf("newest after replay = %+v, want %s", list, recs[2].ID)
	}
}

func TestReplay_MissingFile(t *testing.T) {
	recs, err := Replay(filepath.Join(t.TempDir(), "none.jsonl"))
	if err != nil || recs != nil {
		t.Errorf("Replay(missing) = %v, %v; want nil, nil", recs, err)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	s.Close()

	if _, err := Open(Options{Backend: BackendFile}); err == nil {
		t.Error("file backend without path should fail")
	}
	if _, err := Open(Options{Backend: "sqlite"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestMemoryStore_DeleteBefore(t *testing.T) {
	ctx := context.Background()
	s, _ := NewMemoryStore("")

	old := testRecord("log_reg", 0.1)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	fresh := testRecord("log_reg", 0.2)
	s.Append(ctx, old)
	s.Append(ctx, fresh)

	n, err := s.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old record still present: %v", err)
	}
	if count, _ := s.Count(ctx); count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
