package timeline

import (
	"testing"

	"github.com/beacon-im/beacon/internal/model"
)

func msg(id string, ts int64) model.Message {
	return model.Message{ID: id, Timestamp: ts, CreatedAt: ts}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertOrder(t *testing.T, got []model.Message, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %v, want %v", i, ids(got), want)
		}
	}
}

func TestMergeNewestFirst(t *testing.T) {
	merged := Merge([]model.Message{msg("a", 100), msg("b", 300), msg("c", 200)}, nil)
	assertOrder(t, merged, "b", "c", "a")
}

func TestMergeOptimisticInterleaved(t *testing.T) {
	auth := []model.Message{msg("a", 100), msg("b", 300)}
	opt := []model.Message{msg("temp_200_000001", 200)}
	merged := Merge(auth, opt)
	assertOrder(t, merged, "b", "temp_200_000001", "a")
}

func TestMergeDropsConfirmedOptimistic(t *testing.T) {
	confirmed := msg("srv-1", 200)
	confirmed.TempID = "temp_200_000001"
	auth := []model.Message{msg("a", 100), confirmed}
	opt := []model.Message{msg("temp_200_000001", 200)}

	merged := Merge(auth, opt)
	assertOrder(t, merged, "srv-1", "a")
}

func TestMergeDropsDuplicateIDs(t *testing.T) {
	auth := []model.Message{msg("a", 100)}
	opt := []model.Message{msg("a", 100), msg("b", 50)}
	merged := Merge(auth, opt)
	assertOrder(t, merged, "a", "b")
}

// The merge must converge regardless of the sequence in which optimistic
// entries and snapshots arrive.
func TestMergeOrderIndependence(t *testing.T) {
	confirmed := msg("srv-1", 400)
	confirmed.TempID = "temp_400_000001"
	auth := []model.Message{msg("a", 100), msg("b", 300), confirmed}

	optA := []model.Message{msg("temp_400_000001", 400), msg("temp_500_000002", 500)}
	optB := []model.Message{msg("temp_500_000002", 500), msg("temp_400_000001", 400)}

	assertOrder(t, Merge(auth, optA), "temp_500_000002", "srv-1", "b", "a")
	assertOrder(t, Merge(auth, optB), "temp_500_000002", "srv-1", "b", "a")
}

func TestMergeTieBreakByID(t *testing.T) {
	merged := Merge([]model.Message{msg("a", 100), msg("b", 100)}, nil)
	assertOrder(t, merged, "b", "a")
}

func TestMergeFallsBackToCreatedAt(t *testing.T) {
	a := model.Message{ID: "a", CreatedAt: 100}
	b := model.Message{ID: "b", CreatedAt: 200}
	merged := Merge([]model.Message{a, b}, nil)
	assertOrder(t, merged, "b", "a")
}

func TestFilterClearedHistory(t *testing.T) {
	// The delete-history boundary is inclusive: a message stamped exactly
	// at the clear moment is part of the cleared history.
	msgs := []model.Message{msg("a", 100), msg("b", 200), msg("c", 300)}
	got := filterVisible(msgs, 200, 0)
	assertOrder(t, got, "c")
}

func TestFilterJoinDate(t *testing.T) {
	// The join boundary is exclusive: only messages from before the join
	// are hidden, one stamped exactly at the join moment stays visible.
	msgs := []model.Message{msg("a", 100), msg("b", 200), msg("c", 300)}
	got := filterVisible(msgs, 0, 200)
	assertOrder(t, got, "b", "c")
}

func TestFilterZeroBoundariesKeepEverything(t *testing.T) {
	msgs := []model.Message{msg("a", 100), msg("b", 200)}
	got := filterVisible(msgs, 0, 0)
	if len(got) != 2 {
		t.Fatalf("expected all messages, got %v", ids(got))
	}
}

func TestFilterCombinedBoundaries(t *testing.T) {
	msgs := []model.Message{msg("a", 100), msg("b", 200), msg("c", 300), msg("d", 400)}
	got := filterVisible(msgs, 300, 200)
	assertOrder(t, got, "d")
}
