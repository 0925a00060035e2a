package screening

import "context"

// Store persists sessions. Implementations must make Update atomic per identifier
// and must return copies that callers may modify freely.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get fails with ErrNotFound when the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)
	// Update applies fn to the stored session and saves the result unless fn fails.
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	// Delete removes the session and returns the removed record.
	Delete(ctx context.Context, id string) (*Session, error)
	// List returns summaries ordered by creation time.
	List(ctx context.Context) ([]Summary, error)
}
