package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	"github.com/antonminaichev/perfume-checkout/internal/storage"
	"github.com/antonminaichev/perfume-checkout/internal/types/admin"
	"go.uber.org/zap"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAdminExists      = errors.New("admin already exists")
	ErrInvalidCreds     = errors.New("invalid credentials")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrEmptyLogin       = errors.New("login must not be empty")
)

type Service struct {
	repo      AdminRepository
	jwtSecret []byte
	jwtTTL    time.Duration
}

func NewService(repo AdminRepository, jwtSecret []byte, jwtTTL time.Duration) *Service {
	return &Service{repo: repo, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

func (s *Service) Create(ctx context.Context, login, password string) (*admin.Admin, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, ErrEmptyLogin
	}
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	a := &admin.Admin{
		Login:        login,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateAdmin(ctx, a); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrAdminExists
		}
		return nil, err
	}
	return a, nil
}

// EnsureAdmin seeds the bootstrap account; an existing login is left as is.
func (s *Service) EnsureAdmin(ctx context.Context, login, password string) error {
	if login == "" {
		return nil
	}
	_, err := s.Create(ctx, login, password)
	if errors.Is(err, ErrAdminExists) {
		return nil
	}
	if err == nil {
		logger.Log.Info("bootstrap admin created", zap.String("login", login))
	}
	return err
}

func (s *Service) Authenticate(ctx context.Context, login, password string) (string, error) {
	a, err := s.repo.FindAdminByLogin(ctx, login)
	if err != nil {
		return "", ErrInvalidCreds
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCreds
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   login,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return signed, nil
}
