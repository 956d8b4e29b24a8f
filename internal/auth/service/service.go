package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"sitevisit_backend/internal/auth/password"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/httpkit"
	"sitevisit_backend/platform/logger"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidCredentials = errors.New("invalid credentials")
var ErrNotConfigured = errors.New("admin login is not configured")

const accessTokenType = "access"

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Service issues admin access tokens against the single configured operator
// credential.
type Service struct {
	cfg config.AuthServiceConfig
	log *logger.Logger
	now func() time.Time
}

func New(cfg config.AuthServiceConfig, log *logger.Logger) *Service {
	return &Service{cfg: cfg, log: log, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SignIn checks the operator credential and returns a short-lived access
// token carrying the admin role.
func (s *Service) SignIn(_ context.Context, email, plainPassword string) (Token, error) {
	adminEmail := strings.ToLower(strings.TrimSpace(s.cfg.GetAdminEmail()))
	hash := s.cfg.GetAdminPasswordHash()
	if adminEmail == "" || hash == "" || s.cfg.GetJWTAccessSecret() == "" {
		return Token{}, ErrNotConfigured
	}

	given := strings.ToLower(strings.TrimSpace(email))
	emailMatches := subtle.ConstantTimeCompare([]byte(given), []byte(adminEmail)) == 1
	// Always run bcrypt so a wrong email costs the same as a wrong password.
	passwordErr := password.Compare(hash, plainPassword)
	if !emailMatches || passwordErr != nil {
		s.log.AuthEvent("sign_in", given, false, "invalid credentials")
		return Token{}, ErrInvalidCredentials
	}

	token, err := s.signJWT(adminEmail, []string{httpkit.RoleAdmin})
	if err != nil {
		return Token{}, err
	}
	s.log.AuthEvent("sign_in", adminEmail, true, "")
	return token, nil
}

func (s *Service) signJWT(subject string, roles []string) (Token, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.GetAccessTokenTTL())
	claims := jwt.MapClaims{
		"sub":   subject,
		"type":  accessTokenType,
		"roles": roles,
		"exp":   expiresAt.Unix(),
		"iat":   now.Unix(),
	}

	tokenObj := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tokenObj.SignedString([]byte(s.cfg.GetJWTAccessSecret()))
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: expiresAt}, nil
}
