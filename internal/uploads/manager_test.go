package uploads

import (
	"context"
	"testing"
	"time"

	"github.com/beacon-im/beacon/internal/bus"
	"github.com/beacon-im/beacon/internal/model"
)

func TestAddAndLookup(t *testing.T) {
	m := NewManager(bus.New(), nil)

	id := m.Add(Upload{
		ChatID:        "c1",
		TempMessageID: "temp_1",
		Attachment:    &model.Attachment{FileName: "photo.jpg", MimeType: "image/jpeg", Data: []byte("x")},
	})
	if id == "" {
		t.Fatal("Add returned empty id")
	}

	u, ok := m.Get(id)
	if !ok {
		t.Fatal("Get returned false")
	}
	if u.Status != StatusQueued {
		t.Errorf("status = %q, want queued", u.Status)
	}

	byTemp, ok := m.ByTempMessage("temp_1")
	if !ok || byTemp.ID != id {
		t.Errorf("ByTempMessage = %+v, %v; want id %s", byTemp, ok, id)
	}
	if _, ok := m.ByTempMessage("temp_unknown"); ok {
		t.Error("ByTempMessage(unknown) = true")
	}
}

func TestUpdateProgress(t *testing.T) {
	b := bus.New()
	m := NewManager(b, nil)
	id := m.Add(Upload{TempMessageID: "temp_1"})

	ch, unsub := b.Subscribe("upload.progress", 10)
	defer unsub()

	ok := m.Update(id, func(u *Upload) {
		u.Status = StatusUploading
		u.Phase = model.PhaseUploading
		u.Progress = 42
	})
	if !ok {
		t.Fatal("Update returned false")
	}

	u, _ := m.Get(id)
	if u.Progress != 42 || u.Status != StatusUploading {
		t.Errorf("upload = %+v, want 42%% uploading", u)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for upload.progress event")
	}
}

func TestCancelOnlyOnce(t *testing.T) {
	m := NewManager(bus.New(), nil)
	id := m.Add(Upload{TempMessageID: "temp_1"})

	ctx, cancel := context.WithCancel(context.Background())
	m.BindCancel(id, cancel)

	if !m.Cancel("temp_1") {
		t.Fatal("first Cancel = false, want true")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("context not cancelled")
	}

	// Abort handle removed: second cancel is a no-op.
	if m.Cancel("temp_1") {
		t.Error("second Cancel = true, want false")
	}

	u, _ := m.Get(id)
	if u.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled", u.Status)
	}
}

func TestCompleteSchedulesRemoval(t *testing.T) {
	b := bus.New()
	m := NewManager(b, nil)
	m.RemoveDelay = 50 * time.Millisecond
	id := m.Add(Upload{TempMessageID: "temp_1"})

	ch, unsub := b.Subscribe("upload.finished", 10)
	defer unsub()

	m.Complete(id)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for upload.finished event")
	}

	// Still visible immediately after completion.
	if u, ok := m.Get(id); !ok || u.Status != StatusCompleted {
		t.Errorf("upload = %+v, %v; want completed and present", u, ok)
	}

	time.Sleep(150 * time.Millisecond)
	if _, ok := m.Get(id); ok {
		t.Error("upload still present after retention delay")
	}

	// Cancelling a removed upload is a no-op.
	if m.Cancel("temp_1") {
		t.Error("Cancel after removal = true, want false")
	}
}

func TestFailKeepsAttachmentForRetry(t *testing.T) {
	m := NewManager(bus.New(), nil)
	att := &model.Attachment{FileName: "clip.mp4", Data: []byte("v")}
	id := m.Add(Upload{TempMessageID: "temp_1", Attachment: att, Compress: true})

	m.Fail(id, "network error", false)

	u, ok := m.ByTempMessage("temp_1")
	if !ok {
		t.Fatal("failed upload was removed; must stay for retry")
	}
	if u.Status != StatusFailed || u.FailureCause != "network error" {
		t.Errorf("upload = %+v, want failed with cause", u)
	}
	if u.Attachment != att || !u.Compress {
		t.Error("original attachment or compress flag lost")
	}
}
