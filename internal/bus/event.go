package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the sync core. Consumers subscribe by prefix,
// e.g. "timeline." for every timeline event.
const (
	KindTimelineUpdated = "timeline.updated"
	KindTimelineError   = "timeline.error"
	KindSendFailed      = "message.send_failed"
	KindUploadProgress  = "upload.progress"
	KindUploadFinished  = "upload.finished"
	KindNetOnline       = "net.online"
	KindNetOffline      = "net.offline"
)

// TimelineUpdate is the payload for timeline.* events.
type TimelineUpdate struct {
	ChatID string
}

// SendFailure is the payload for message.send_failed events.
type SendFailure struct {
	ChatID    string
	MessageID string
	Cause     string
}
