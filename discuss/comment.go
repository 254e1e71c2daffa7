package discuss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

func (status Status) IsValid() bool {
	switch status {
	case StatusPending, StatusAccepted:
		return true
	default:
		return false
	}
}

// Comment is a free-text note attached to a target. AcceptToken is only set
// while the comment is pending.
type Comment struct {
	ID          string
	Target      string
	Author      string
	Message     string
	Additional  json.RawMessage
	Status      Status
	CreatedAt   time.Time
	AcceptToken string
	TokenExpiry time.Time
}

// TokenCheck reports whether the stored accept token matches the one the
// caller supplied.
type TokenCheck func(stored string) bool

type CommentRepository interface {
	InsertPending(ctx context.Context, comment *Comment) (err error)
	FindByID(ctx context.Context, id string) (comment *Comment, err error)
	// TryAccept flips a pending comment to accepted. Status, token and expiry
	// are re-evaluated inside the transaction that performs the write.
	TryAccept(ctx context.Context, id string, now time.Time, check TokenCheck) (comment *Comment, err error)
	ListAccepted(ctx context.Context, target string) (comments []*Comment, err error)
	SweepExpiredPending(ctx context.Context, now time.Time) (removed int64, err error)
	Ping(ctx context.Context) (err error)
}

type CommentNotFoundError struct {
	ID string
}

func (err CommentNotFoundError) Error() string {
	return fmt.Sprintf("comment with id %q not found", err.ID)
}

type TokenMismatchError struct {
	ID string
}

func (err TokenMismatchError) Error() string {
	return fmt.Sprintf("accept token does not match comment %q", err.ID)
}

type TokenExpiredError struct {
	ID        string
	ExpiredAt time.Time
}

func (err TokenExpiredError) Error() string {
	return fmt.Sprintf("accept token for comment %q expired at %s", err.ID, err.ExpiredAt.Format(time.RFC3339))
}

// ErrAlreadyAccepted is returned by the repository when the comment left the
// pending state before the call. The service reports it as success.
var ErrAlreadyAccepted = errors.New("comment already accepted")
