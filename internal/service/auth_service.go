package service

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/internal/repository"
	"github.com/bookhaven/library-service/pkg/auth"
	"github.com/bookhaven/library-service/pkg/config"
	"github.com/bookhaven/library-service/pkg/events"
	"github.com/bookhaven/library-service/pkg/logger"
)

// AuthService covers authentication and user administration.
type AuthService interface {
	Register(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	ChangePassword(ctx context.Context, userID int64, req *domain.ChangePasswordRequest) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context, keyword string, limit, offset int) ([]domain.User, int64, error)
	CreateUser(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error)
	UpdateUser(ctx context.Context, id int64, req *domain.UpdateUserRequest) (*domain.User, error)
	DeleteUser(ctx context.Context, actorID, id int64) error
	EnsureAdmin(ctx context.Context) error
}

type authService struct {
	userRepo   repository.UserRepository
	borrowRepo repository.BorrowRepository
	eventBus   events.EventBus
	config     *config.Config
}

func NewAuthService(
	userRepo repository.UserRepository,
	borrowRepo repository.BorrowRepository,
	eventBus events.EventBus,
	config *config.Config,
) AuthService {
	return &authService{
		userRepo:   userRepo,
		borrowRepo: borrowRepo,
		eventBus:   eventBus,
		config:     config,
	}
}

func (s *authService) Register(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error) {
	// Self-registration never grants admin
	req.Role = domain.RoleUser
	return s.CreateUser(ctx, req)
}

func (s *authService) CreateUser(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	existing, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrUsernameExists
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.userRepo.Create(ctx, req, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	event := events.UserRegisteredEvent{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}
	if err := s.eventBus.Publish(ctx, events.UserRegistered, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish user registered event", "error", err, "user_id", user.ID)
	}

	return user, nil
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	user, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidCredentials
	}

	valid, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}

	accessToken, err := auth.NewAccessToken(
		user.ID,
		user.Username,
		user.Role,
		s.config.Auth.JWTSecret,
		s.config.Auth.AccessTokenTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	return &domain.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.config.Auth.AccessTokenTTL.Seconds()),
		User:        user.ToUserInfo(),
	}, nil
}

func (s *authService) ChangePassword(ctx context.Context, userID int64, req *domain.ChangePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return domain.ErrNotFound
	}

	valid, err := argon2id.ComparePasswordAndHash(req.OldPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return domain.ErrInvalidCredentials
	}

	passwordHash, err := argon2id.CreateHash(req.NewPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.userRepo.UpdatePassword(ctx, userID, passwordHash)
}

func (s *authService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *authService) ListUsers(ctx context.Context, keyword string, limit, offset int) ([]domain.User, int64, error) {
	return s.userRepo.List(ctx, keyword, limit, offset)
}

func (s *authService) UpdateUser(ctx context.Context, id int64, req *domain.UpdateUserRequest) (*domain.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	if req.Username != nil {
		existing, err := s.userRepo.FindByUsername(ctx, *req.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing user: %w", err)
		}
		if existing != nil && existing.ID != id {
			return nil, domain.ErrUsernameExists
		}
	}

	user, err := s.userRepo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}

	if req.Password != nil {
		passwordHash, err := argon2id.CreateHash(*req.Password, argon2id.DefaultParams)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		if err := s.userRepo.UpdatePassword(ctx, id, passwordHash); err != nil {
			return nil, fmt.Errorf("failed to update password: %w", err)
		}
	}

	return user, nil
}

func (s *authService) DeleteUser(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return domain.ErrSelfDelete
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return domain.ErrNotFound
	}

	open, err := s.borrowRepo.CountOpenByUser(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count open borrows: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("%d books not yet returned: %w", open, domain.ErrHasOpenBorrows)
	}

	deleted, err := s.userRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin account on first startup.
func (s *authService) EnsureAdmin(ctx context.Context) error {
	existing, err := s.userRepo.FindByUsername(ctx, s.config.Library.AdminUsername)
	if err != nil {
		return fmt.Errorf("failed to check admin account: %w", err)
	}
	if existing != nil {
		return nil
	}

	passwordHash, err := argon2id.CreateHash(s.config.Library.AdminPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	req := &domain.CreateUserRequest{
		Username: s.config.Library.AdminUsername,
		Name:     "Administrator",
		Role:     domain.RoleAdmin,
	}
	if _, err := s.userRepo.Create(ctx, req, passwordHash); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("Created bootstrap admin account", "username", s.config.Library.AdminUsername)
	return nil
}
