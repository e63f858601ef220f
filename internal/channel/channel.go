// Package channel defines the delivery contract the scheduler sends through
// and the wrappers shared by every concrete provider.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"confcrm/internal/domain"
)

type Message struct {
	Channel        domain.ChannelType
	OwnerID        string
	To             string
	Subject        string
	Body           string
	IdempotencyKey string
}

type Receipt struct {
	ExternalMessageID string
}

type Adapter interface {
	Send(ctx context.Context, m Message) (Receipt, error)
}

type AdapterFunc func(ctx context.Context, m Message) (Receipt, error)

func (f AdapterFunc) Send(ctx context.Context, m Message) (Receipt, error) { return f(ctx, m) }

// Error classifies a send failure. Permanent failures are never retried.
type Error struct {
	Permanent  bool
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s send error (http %d): %v", kind, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("%s send error: %v", kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Permanent(err error) error { return &Error{Permanent: true, Err: err} }

func Transient(err error) error { return &Error{Err: err} }

// IsPermanent reports whether err was classified permanent. Unclassified
// errors count as transient.
func IsPermanent(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Permanent
}

// FromHTTP classifies a provider response by status: 408, 429 and 5xx are
// retryable, any other non-2xx is not.
func FromHTTP(status int, err error) error {
	if err == nil {
		err = fmt.Errorf("unexpected status %d", status)
	}
	return &Error{Permanent: !Retryable(nil, status), HTTPStatus: status, Err: err}
}

// Retryable decides whether a failed call is worth another attempt.
func Retryable(err error, httpStatus int) bool {
	switch {
	case httpStatus == 429 || httpStatus == 408:
		return true
	case httpStatus >= 500 && httpStatus <= 599:
		return true
	case httpStatus != 0:
		return false
	}
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return !IsPermanent(err)
}

func Backoff(attempt int) time.Duration {
	// 200ms, 600ms, 1400ms approx
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
