// Package storage declares the persistence collaborators the gateway depends
// on. The gateway never owns this state; it only observes and increments it.
package storage

import (
	"context"
	"errors"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("not found")

// CounterStore is the shared daily-counter store. Add must be a single atomic
// increment-and-return at the storage layer, never a read-modify-write pair;
// keys expire with their calendar day and absent keys read as zero.
type CounterStore interface {
	Add(ctx context.Context, key quota.Key, delta int64) (int64, error)
	Get(ctx context.Context, key quota.Key) (int64, error)
}

// UserStore resolves and updates messaging-platform identities.
type UserStore interface {
	GetUserByWAID(ctx context.Context, waID string) (user.User, error)
	GetOrCreateUser(ctx context.Context, waID string) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
}

// SubjectStore reads the subject/class catalogue and records selections.
type SubjectStore interface {
	ListSubjects(ctx context.Context) ([]user.Subject, error)
	GetSubject(ctx context.Context, subjectID int64) (user.Subject, []user.Class, error)
	SetUserClasses(ctx context.Context, userID string, subjectID int64, classIDs []int64) error
}
