package store

import (
	"context"
	"errors"

	"github.com/pliu/nowchat/internal/models"
)

var (
	// ErrUnavailable marks a failure of the durable store itself (unreachable,
	// timed out, broken query). It is fatal for the operation in flight only.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by point reads when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Store is the durable collaborator. Writes report the number of affected
// rows so callers can tell a logical failure (0 rows) from an error.
type Store interface {
	// User operations
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (int64, error)
	UpdateUser(ctx context.Context, user *models.User) (int64, error)
	DeleteUser(ctx context.Context, id int64) (int64, error)

	// Message operations
	SaveMessage(ctx context.Context, msg *models.Message) (int64, error)
	GetChatMessages(ctx context.Context, a, b string) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close() error
}
