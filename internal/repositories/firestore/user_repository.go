package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/peakhost/api/internal/domain"
	pfirestore "github.com/peakhost/api/internal/platform/firestore"
)

const (
	userCollection      = "users"
	userEmailCollection = "user_emails"
)

// UserRepository persists accounts in Firestore together with a unique
// lowercase-email index collection.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	emails   *pfirestore.BaseRepository[emailIndexDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base:     pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil),
		emails:   pfirestore.NewBaseRepository[emailIndexDocument](provider, userEmailCollection, nil, nil),
		provider: provider,
	}, nil
}

// FindByID loads the account by its identifier.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc.ID, doc.Data), nil
}

// FindByEmail resolves the account through the email index.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.emails == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	key := normaliseEmail(email)
	if key == "" {
		return domain.User{}, errors.New("email is required")
	}
	index, err := r.emails.Get(ctx, key)
	if err != nil {
		return domain.User{}, err
	}
	return r.FindByID(ctx, index.Data.UserID)
}

// ProvisionByEmail inserts the candidate user and its email index entry in one
// transaction. The index document ID is the lowercase email, so a concurrent
// provision for the same address loses the Create and falls back to the
// existing owner.
func (r *UserRepository) ProvisionByEmail(ctx context.Context, candidate domain.User) (domain.User, bool, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, false, errors.New("user repository not initialised")
	}
	key := normaliseEmail(candidate.Email)
	if key == "" {
		return domain.User{}, false, errors.New("email is required")
	}
	if strings.TrimSpace(candidate.ID) == "" {
		return domain.User{}, false, errors.New("user id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		indexRef, err := r.emails.DocumentRef(ctx, key)
		if err != nil {
			return err
		}
		userRef, err := r.base.DocumentRef(ctx, candidate.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(indexRef, emailIndexDocument{
			UserID:    candidate.ID,
			Email:     key,
			CreatedAt: candidate.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(userRef, fromDomainUser(candidate))
	})
	if err == nil {
		return candidate, true, nil
	}

	if status.Code(err) != codes.AlreadyExists {
		var repoErr *pfirestore.Error
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			return domain.User{}, false, pfirestore.WrapError("users.provision", err)
		}
	}

	// Lost the race. The index entry names the winner.
	existing, lookupErr := r.FindByEmail(ctx, key)
	if lookupErr != nil {
		return domain.User{}, false, pfirestore.WrapError("users.provision", lookupErr)
	}
	return existing, false, nil
}

// UpdateProfile upserts mutable account fields.
func (r *UserRepository) UpdateProfile(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc := fromDomainUser(user)
	if _, err := r.base.Set(ctx, user.ID, doc); err != nil {
		return domain.User{}, err
	}
	return toDomainUser(user.ID, doc), nil
}

type userDocument struct {
	Email        string    `firestore:"email"`
	DisplayName  string    `firestore:"displayName"`
	PasswordHash *string   `firestore:"passwordHash,omitempty"`
	Role         string    `firestore:"role"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type emailIndexDocument struct {
	UserID    string    `firestore:"userId"`
	Email     string    `firestore:"email"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func toDomainUser(id string, doc userDocument) domain.User {
	return domain.User{
		ID:           id,
		Email:        doc.Email,
		DisplayName:  doc.DisplayName,
		PasswordHash: doc.PasswordHash,
		Role:         domain.Role(doc.Role),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func fromDomainUser(user domain.User) userDocument {
	return userDocument{
		Email:        normaliseEmail(user.Email),
		DisplayName:  strings.TrimSpace(user.DisplayName),
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
