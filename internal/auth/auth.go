package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Martian-dev/ai-mail-reader/internal/store"
)

const MinPasswordLength = 6

var (
	ErrMissingFields      = errors.New("email and password are required")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// defaultVoiceID is the ElevenLabs voice new accounts start with.
const defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
}

type AuthService struct {
	users UserStore
}

func NewAuthService(users UserStore) *AuthService {
	return &AuthService{users: users}
}

// CreateUser registers a new account. The name defaults to the local part of
// the email address.
func (s *AuthService) CreateUser(ctx context.Context, email, password, name string) (*store.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(name) == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	user := &store.User{
		Email:       email,
		Password:    string(hashedPassword),
		Name:        strings.TrimSpace(name),
		Preferences: store.Preferences{DefaultVoiceID: defaultVoiceID},
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (s *AuthService) ValidateUser(ctx context.Context, email, password string) (*store.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
