package notification

import (
	"fmt"
	"strings"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

const componentNotification = "notification"

// Sentinel errors returned by the notification core.
var (
	ErrMissingPlaceholder = errors.NewStd("missing placeholder")
	ErrTemplateNotFound   = errors.NewStd("notification template not found")
	ErrTemplateInactive   = errors.NewStd("notification template is inactive")
	ErrChannelDisabled    = errors.NewStd("notification channel is disabled")
	ErrCapExceeded        = errors.NewStd("channel daily send cap exceeded")
	ErrNoSender           = errors.NewStd("no sender registered for channel type")
)

// RenderError reports a template that cannot be rendered with the supplied
// placeholders. It unwraps to ErrMissingPlaceholder.
type RenderError struct {
	TemplateCode string
	Channel      entities.ChannelType
	Missing      []string
}

func (e *RenderError) Error() string {
	where := e.TemplateCode
	if e.Channel != "" {
		where += "/" + string(e.Channel)
	}
	return fmt.Sprintf("render %s: missing placeholder(s) %s", where, strings.Join(e.Missing, ", "))
}

func (e *RenderError) Unwrap() error { return ErrMissingPlaceholder }

// PermanentDeliveryError is a sender failure that must not be retried.
type PermanentDeliveryError struct {
	Reason string
	Err    error
}

func (e *PermanentDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent delivery failure: %s: %v", e.Reason, e.Err)
	}
	return "permanent delivery failure: " + e.Reason
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// Permanent marks the error as non-retryable.
func (e *PermanentDeliveryError) Permanent() bool { return true }

// TransientDeliveryError is a retryable sender failure.
type TransientDeliveryError struct {
	Reason string
	Err    error
}

func (e *TransientDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient delivery failure: %s: %v", e.Reason, e.Err)
	}
	return "transient delivery failure: " + e.Reason
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// Permanent reports false; transient errors are retried.
func (e *TransientDeliveryError) Permanent() bool { return false }

// Permanent wraps err so the dispatcher will not retry it.
func Permanent(reason string, err error) error {
	return &PermanentDeliveryError{Reason: reason, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(reason string, err error) error {
	return &TransientDeliveryError{Reason: reason, Err: err}
}

// IsPermanent reports whether any error in the chain is marked permanent.
// Unmarked errors are treated as transient.
func IsPermanent(err error) bool {
	var marker interface{ Permanent() bool }
	if errors.As(err, &marker) {
		return marker.Permanent()
	}
	return false
}
