package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

// ShareKey scopes share-flow state to one owner and job.
type ShareKey struct {
	OwnerID restoration.OwnerID
	JobID   restoration.JobID
}

// String renders the cache key.
func (key ShareKey) String() string {
	return fmt.Sprintf("%s:%s:%s", shareStateKeyPrefix, key.OwnerID.String(), key.JobID.String())
}

// ShareState is the server-side proof that a share flow was started and followed.
type ShareState struct {
	CreatedUnixUTC    int64 `json:"created_at_ts"`
	RedirectedUnixUTC int64 `json:"redirected_at_ts,omitempty"`
}

// Redirected reports whether the owner followed a server-minted redirect.
func (state ShareState) Redirected() bool {
	return state.RedirectedUnixUTC > 0
}

// ShareStateStore keeps short-lived share-flow state.
type ShareStateStore interface {
	Put(ctx context.Context, key ShareKey, state ShareState, ttl time.Duration) error
	Get(ctx context.Context, key ShareKey) (ShareState, bool, error)
	Delete(ctx context.Context, key ShareKey) error
}
