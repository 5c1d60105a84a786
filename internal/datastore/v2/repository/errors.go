package repository

import "github.com/MochamaB/FormReporting-sub006/internal/errors"

// Sentinel errors returned by the repositories.
var (
	ErrTemplateNotFound     = errors.NewStd("notification template not found")
	ErrSystemTemplate       = errors.NewStd("system templates cannot be deleted")
	ErrNotificationNotFound = errors.NewStd("notification not found")
	ErrRecipientNotFound    = errors.NewStd("notification recipient not found")
	ErrChannelNotFound      = errors.NewStd("notification channel not found")
	ErrDeliveryNotFound     = errors.NewStd("notification delivery not found")
	ErrPreferenceNotFound   = errors.NewStd("notification preference not found")
	ErrAlertNotFound        = errors.NewStd("alert definition not found")
	ErrAlertHistoryNotFound = errors.NewStd("alert history not found")

	// ErrStaleTransition means the row was no longer in one of the expected
	// states when a conditional update ran.
	ErrStaleTransition = errors.NewStd("stale state transition")

	// ErrConcurrentTrigger means another evaluation recorded a trigger for
	// the same alert since it was loaded.
	ErrConcurrentTrigger = errors.NewStd("alert triggered concurrently")
)
