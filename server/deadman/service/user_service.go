package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"deadman_server/server/deadman/domain"
)

type userStore interface {
	Create(ctx context.Context, user domain.User) (string, error)
	GetByID(ctx context.Context, userID string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
}

type UserService struct {
	repo userStore
}

func NewUserService(repo userStore) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) Create(ctx context.Context, email, displayName, password, role string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", errors.New("a valid email is required")
	}
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	if role == "" {
		role = domain.UserRoleUser
	}
	if role != domain.UserRoleUser && role != domain.UserRoleAdmin {
		return "", errors.New("role must be user or admin")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return s.repo.Create(ctx, domain.User{
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hashed),
		Role:         role,
	})
}

func (s *UserService) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return domain.User{}, errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, errors.New("invalid credentials")
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *UserService) Get(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}
