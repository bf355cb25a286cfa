package backend

import "errors"

var (
	// ErrOffline is returned when a send is attempted without connectivity.
	// Text sends route to the outbox instead; media sends fail fast with it.
	ErrOffline = errors.New("no internet connection")

	// ErrCancelled marks a user-initiated upload cancellation, distinguished
	// from ordinary failure so the UI can show "cancelled" rather than "failed".
	ErrCancelled = errors.New("upload cancelled")

	// ErrAttachmentGone is returned when a media retry is refused because the
	// original file handle no longer exists (e.g. after a restart).
	ErrAttachmentGone = errors.New("attachment no longer available")
)
