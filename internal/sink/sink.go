package sink

import (
	"context"
	"errors"
	"time"

	"pixdesk/internal/pix"
)

// Record is a finalized intake submission handed over for the approval
// workflow. The session that produced it is gone by the time staff sees this.
type Record struct {
	OwnerID     string      `json:"owner_id"`
	DisplayName string      `json:"display_name"`
	KeyType     pix.KeyType `json:"key_type"`
	Key         pix.Key     `json:"key"`
	ImageRef    string      `json:"image_ref"`
}

// Submission is a stored record plus its review state.
type Submission struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	DisplayName string      `json:"display_name"`
	KeyType     pix.KeyType `json:"key_type"`
	PixKey      string      `json:"pix_key"`
	ImageRef    string      `json:"image_ref"`
	Status      string      `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// ErrUnavailable marks a transient store failure. Sessions treat it as
// retryable: the user resends the image instead of losing the ticket.
var ErrUnavailable = errors.New("sink: submission store unavailable")

// ErrNotFound is returned by review operations on unknown submission ids.
var ErrNotFound = errors.New("sink: submission not found")

// Sink is the durable store a finished intake session hands its record to.
type Sink interface {
	Submit(ctx context.Context, rec Record) (string, error)
}

// Store extends Sink with the staff-facing approval queue.
type Store interface {
	Sink
	List(ctx context.Context, status string, limit int) ([]Submission, error)
	Review(ctx context.Context, id string, approve bool, reason string) (Submission, error)
}
