package outbox

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/beacon-im/beacon/internal/model"
	"github.com/beacon-im/beacon/internal/store"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := zap.NewDevelopment()
	return NewQueue(db, logger)
}

func TestAddAndListPending(t *testing.T) {
	q := testQueue(t)

	first := &model.Message{ID: "temp_1", ChatID: "c1", Type: model.TypeText, Text: "hello", Status: model.StatusPending}
	second := &model.Message{ID: "temp_2", ChatID: "c1", Type: model.TypeText, Text: "world", Status: model.StatusPending}
	if err := q.AddPending("c1", first, false); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending("c1", second, true); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending("c2", &model.Message{ID: "temp_3", ChatID: "c2", Text: "other"}, false); err != nil {
		t.Fatal(err)
	}

	entries, err := q.PendingForChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message.Text != "hello" || entries[1].Message.Text != "world" {
		t.Errorf("entries out of insertion order: %+v", entries)
	}
	if !entries[1].IsGroup {
		t.Error("IsGroup flag lost")
	}
}

func TestRetryCeiling(t *testing.T) {
	q := testQueue(t)
	msg := &model.Message{ID: "temp_1", ChatID: "c1", Text: "hi"}
	if err := q.AddPending("c1", msg, false); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < q.RetryLimit; i++ {
		if !q.ShouldRetry("temp_1") {
			t.Fatalf("ShouldRetry = false after %d increments, limit is %d", i, q.RetryLimit)
		}
		if err := q.IncrementRetry("temp_1"); err != nil {
			t.Fatal(err)
		}
	}
	if q.ShouldRetry("temp_1") {
		t.Error("ShouldRetry = true at ceiling")
	}
}

func TestShouldRetryMissingEntry(t *testing.T) {
	q := testQueue(t)
	if q.ShouldRetry("nope") {
		t.Error("ShouldRetry(missing) = true")
	}
}

func TestRemove(t *testing.T) {
	q := testQueue(t)
	if err := q.AddPending("c1", &model.Message{ID: "temp_1", ChatID: "c1"}, false); err != nil {
		t.Fatal(err)
	}
	if err := q.Remove("temp_1"); err != nil {
		t.Fatal(err)
	}
	entries, err := q.PendingForChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries after remove, want 0", len(entries))
	}
}
