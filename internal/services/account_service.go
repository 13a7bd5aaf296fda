package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/repositories"
)

var (
	// ErrAccountInvalidInput indicates the provisioning request was malformed.
	ErrAccountInvalidInput = errors.New("account: invalid input")
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account: not found")
	// ErrProvisioningFailed indicates the guest account could not be created or resolved.
	ErrProvisioningFailed = errors.New("account: provisioning failed")
)

// AccountServiceDeps wires the dependencies required by the account service.
type AccountServiceDeps struct {
	Users       repositories.UserRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type accountService struct {
	users  repositories.UserRepository
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewAccountService constructs an AccountService validating required dependencies.
func NewAccountService(deps AccountServiceDeps) (AccountService, error) {
	if deps.Users == nil {
		return nil, errors.New("account service: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "usr_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &accountService{
		users: deps.Users,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Provision resolves the account for a checkout. Authenticated callers get
// their own account back; guests get an atomic create-or-fetch keyed by the
// lowercase email. An existing account is never modified on this path.
func (s *accountService) Provision(ctx context.Context, cmd ProvisionCommand) (ProvisionResult, error) {
	if s == nil || s.users == nil {
		return ProvisionResult{}, ErrProvisioningFailed
	}

	if userID := strings.TrimSpace(cmd.UserID); userID != "" {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return ProvisionResult{}, s.translateError(err)
		}
		return ProvisionResult{User: user}, nil
	}

	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if !validEmail(email) {
		return ProvisionResult{}, ErrAccountInvalidInput
	}

	now := s.now()
	candidate := domain.User{
		ID:          s.newID(),
		Email:       email,
		DisplayName: strings.TrimSpace(cmd.DisplayName),
		Role:        domain.RoleCustomer,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if candidate.DisplayName == "" {
		candidate.DisplayName = email[:strings.Index(email, "@")]
	}

	user, created, err := s.users.ProvisionByEmail(ctx, candidate)
	if err != nil {
		s.logger(ctx, "account.provision.failed", map[string]any{"email": email, "error": err.Error()})
		return ProvisionResult{}, ErrProvisioningFailed
	}
	if created {
		s.logger(ctx, "account.provision.created", map[string]any{"userId": user.ID})
	}
	return ProvisionResult{User: user, Created: created}, nil
}

func (s *accountService) translateError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrAccountNotFound
	}
	return err
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domainPart := email[at+1:]
	if !strings.Contains(domainPart, ".") || strings.Contains(domainPart, "@") {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}
