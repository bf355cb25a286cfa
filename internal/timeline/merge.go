package timeline

import (
	"sort"

	"github.com/beacon-im/beacon/internal/model"
)

// Merge combines the authoritative snapshot with the optimistic set into one
// deduplicated view, newest first. An optimistic entry is dropped as soon as
// an authoritative message shares its id or references it via tempId: exactly
// one copy of each logical message survives, the authoritative one once it
// exists. The function is pure, so the result is identical no matter which
// input arrived last.
func Merge(authoritative, optimistic []model.Message) []model.Message {
	byID := make(map[string]struct{}, len(authoritative))
	byTemp := make(map[string]struct{})

	out := make([]model.Message, 0, len(authoritative)+len(optimistic))
	for _, m := range authoritative {
		byID[m.ID] = struct{}{}
		if m.TempID != "" {
			byTemp[m.TempID] = struct{}{}
		}
		out = append(out, m)
	}

	for _, m := range optimistic {
		if _, ok := byID[m.ID]; ok {
			continue
		}
		if _, ok := byTemp[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}

	sortMessages(out)
	return out
}

// sortMessages orders newest first by the ordering key, breaking equal keys
// by message-id comparison so the order is a deterministic total order.
func sortMessages(msgs []model.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		ki, kj := msgs[i].OrderKey(), msgs[j].OrderKey()
		if ki != kj {
			return ki > kj
		}
		return msgs[i].ID > msgs[j].ID
	})
}

// filterVisible applies the per-user boundaries: messages at or before the
// delete-history mark are hidden, and for groups, messages sent strictly
// before the user's latest join are hidden. A message stamped exactly at the
// join moment is visible.
func filterVisible(msgs []model.Message, clearedAt, joinedAt int64) []model.Message {
	if clearedAt == 0 && joinedAt == 0 {
		return msgs
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		key := m.OrderKey()
		if clearedAt > 0 && key <= clearedAt {
			continue
		}
		if joinedAt > 0 && key < joinedAt {
			continue
		}
		out = append(out, m)
	}
	return out
}
