package account

import (
	"context"

	"github.com/google/uuid"
)

// Store persists accounts. Insert must enforce email uniqueness atomically
// and report a conflict as ErrDuplicateEmail.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	Insert(ctx context.Context, email, passwordHash string) (*Account, error)
}
