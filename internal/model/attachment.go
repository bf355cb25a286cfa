package model

// Attachment is an in-memory file handle for a media send. It lives only as
// long as the process: attachments cannot be durably queued across restarts,
// which is why media sends fail fast when offline instead of entering the
// outbox.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// Size returns the attachment size in bytes.
func (a *Attachment) Size() int64 {
	return int64(len(a.Data))
}

// UploadPhase distinguishes the stages of a media transfer.
type UploadPhase string

const (
	PhaseCompressing UploadPhase = "compressing"
	PhaseUploading   UploadPhase = "uploading"
)

// UploadProgress is one element of the bounded progress stream emitted while
// an attachment transfers.
type UploadProgress struct {
	Phase   UploadPhase
	Percent int
}
