package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTableStateUnknownTable(t *testing.T) {
	s := openTestStore(t)

	st, err := s.TableState(context.Background(), "never_seen")
	if err != nil {
		t.Fatalf("table state: %v", err)
	}
	if !st.Fingerprint.IsZero() {
		t.Error("unknown table should have a zero fingerprint")
	}
	if !st.LastSyncedAt.IsZero() {
		t.Error("unknown table should have no sync timestamp")
	}
	if st.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", st.ConsecutiveFailures)
	}
}

func TestCommitSyncRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fp := source.FingerprintRows("executions", []source.Row{
		{Key: "a", Values: []string{"1"}},
		{Key: "b", Values: []string{"2"}},
	})
	syncedAt := time.Now()
	upserts := []MappingUpdate{
		{Key: "a", RowIndex: 1, ContentHash: "h1"},
		{Key: "b", RowIndex: 2, ContentHash: "h2"},
	}

	if err := s.CommitSync(ctx, fp, syncedAt, upserts, nil); err != nil {
		t.Fatalf("commit sync: %v", err)
	}

	st, err := s.TableState(ctx, "executions")
	if err != nil {
		t.Fatalf("table state: %v", err)
	}
	if !st.Fingerprint.Equal(fp) {
		t.Error("committed fingerprint does not round-trip")
	}
	if st.Fingerprint.Table != "executions" {
		t.Errorf("Table = %q", st.Fingerprint.Table)
	}
	if st.LastSyncedAt.IsZero() {
		t.Error("LastSyncedAt not persisted")
	}
	if !st.LastSyncedAt.Equal(syncedAt) {
		t.Errorf("LastSyncedAt = %v, want %v", st.LastSyncedAt, syncedAt)
	}

	mappings, err := s.Mappings(ctx, "executions")
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("got %d mappings, want 2", len(mappings))
	}
	if m := mappings["b"]; m.RowIndex != 2 || m.ContentHash != "h2" {
		t.Errorf("mapping b = %+v", m)
	}
}

func TestCommitSyncResetsFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.RecordFailure(ctx, "executions"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	fp := source.FingerprintRows("executions", nil)
	if err := s.CommitSync(ctx, fp, time.Now(), nil, nil); err != nil {
		t.Fatalf("commit sync: %v", err)
	}

	st, err := s.TableState(ctx, "executions")
	if err != nil {
		t.Fatalf("table state: %v", err)
	}
	if st.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after successful sync", st.ConsecutiveFailures)
	}
}

func TestRecordFailureIncrements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.RecordFailure(ctx, "executions")
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if got != want {
			t.Errorf("failure count = %d, want %d", got, want)
		}
	}

	// The committed fingerprint stays untouched so the change remains
	// visible to the detector.
	st, err := s.TableState(ctx, "executions")
	if err != nil {
		t.Fatalf("table state: %v", err)
	}
	if !st.Fingerprint.IsZero() {
		t.Error("failure recording should not touch the fingerprint")
	}
}

func TestApplyMappingsPartialProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.ApplyMappings(ctx, "executions", []MappingUpdate{
		{Key: "a", RowIndex: 1, ContentHash: "h1"},
	}, nil)
	if err != nil {
		t.Fatalf("apply mappings: %v", err)
	}

	// Mappings persist even though no sync has been committed.
	mappings, err := s.Mappings(ctx, "executions")
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("got %d mappings, want 1", len(mappings))
	}

	err = s.ApplyMappings(ctx, "executions", []MappingUpdate{
		{Key: "a", RowIndex: 1, ContentHash: "h1-updated"},
		{Key: "b", RowIndex: 2, ContentHash: "h2"},
	}, nil)
	if err != nil {
		t.Fatalf("apply mappings: %v", err)
	}

	mappings, err = s.Mappings(ctx, "executions")
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if mappings["a"].ContentHash != "h1-updated" {
		t.Error("upsert did not update existing mapping")
	}
	if len(mappings) != 2 {
		t.Errorf("got %d mappings, want 2", len(mappings))
	}
}

func TestApplyMappingsDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.ApplyMappings(ctx, "executions", []MappingUpdate{
		{Key: "a", RowIndex: 1, ContentHash: "h1"},
		{Key: "b", RowIndex: 2, ContentHash: "h2"},
	}, nil)
	if err != nil {
		t.Fatalf("apply mappings: %v", err)
	}

	if err := s.ApplyMappings(ctx, "executions", nil, []string{"a"}); err != nil {
		t.Fatalf("delete mapping: %v", err)
	}

	mappings, err := s.Mappings(ctx, "executions")
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if _, ok := mappings["a"]; ok {
		t.Error("deleted mapping still present")
	}
	if _, ok := mappings["b"]; !ok {
		t.Error("unrelated mapping removed")
	}
}

func TestMappingsIsolatedPerTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ApplyMappings(ctx, "alpha", []MappingUpdate{{Key: "k", RowIndex: 1}}, nil); err != nil {
		t.Fatalf("apply mappings: %v", err)
	}
	if err := s.ApplyMappings(ctx, "beta", []MappingUpdate{{Key: "k", RowIndex: 9}}, nil); err != nil {
		t.Fatalf("apply mappings: %v", err)
	}

	alpha, err := s.Mappings(ctx, "alpha")
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if alpha["k"].RowIndex != 1 {
		t.Errorf("alpha mapping = %+v", alpha["k"])
	}

	count, err := s.MappingCount(ctx, "beta")
	if err != nil {
		t.Fatalf("mapping count: %v", err)
	}
	if count != 1 {
		t.Errorf("beta count = %d, want 1", count)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fp := source.FingerprintRows("executions", []source.Row{{Key: "a", Values: []string{"1"}}})
	if err := s.CommitSync(ctx, fp, time.Now(), []MappingUpdate{{Key: "a", RowIndex: 1, ContentHash: "h"}}, nil); err != nil {
		t.Fatalf("commit sync: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s.Close()

	st, err := s.TableState(ctx, "executions")
	if err != nil {
		t.Fatalf("table state: %v", err)
	}
	if !st.Fingerprint.Equal(fp) {
		t.Error("fingerprint lost across reopen")
	}
	mappings, err := s.Mappings(ctx, "executions")
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if len(mappings) != 1 {
		t.Errorf("got %d mappings after reopen, want 1", len(mappings))
	}
}
