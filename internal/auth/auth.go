// Package auth guards the admin endpoints with static bearer tokens whose
// bcrypt hashes are kept in configuration.
package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

var (
	// ErrMissingToken is returned when no bearer token is supplied.
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthorized, "missing bearer token")
	// ErrInvalidToken is returned when the token matches no configured hash.
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthorized, "invalid bearer token")
)

// Subject identifies an authenticated operator.
type Subject struct {
	Name string
}

type credential struct {
	subject string
	hash    []byte
}

// Service verifies admin bearer tokens.
type Service struct {
	creds []credential
	audit *slog.Logger

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewService parses entries of the form "hash" or "name:hash". Unnamed
// entries become admin-1, admin-2 and so on.
func NewService(entries []string) (*Service, error) {
	svc := &Service{
		audit:    logger.Audit(),
		verified: make(map[[sha256.Size]byte]string),
	}
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name := fmt.Sprintf("admin-%d", i+1)
		hash := entry
		if idx := strings.Index(entry, ":$2"); idx > 0 {
			name, hash = entry[:idx], entry[idx+1:]
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("admin token %d is not a bcrypt hash", i+1))
		}
		svc.creds = append(svc.creds, credential{subject: name, hash: []byte(hash)})
	}
	return svc, nil
}

// Enabled reports whether any token is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.creds) > 0
}

// Authenticate resolves the subject behind an Authorization header value.
func (s *Service) Authenticate(_ context.Context, header string) (*Subject, error) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}
	if !s.Enabled() {
		return nil, ErrInvalidToken
	}

	digest := sha256.Sum256([]byte(token))
	s.mu.RLock()
	name, hit := s.verified[digest]
	s.mu.RUnlock()
	if hit {
		return &Subject{Name: name}, nil
	}

	for _, c := range s.creds {
		if bcrypt.CompareHashAndPassword(c.hash, []byte(token)) == nil {
			s.mu.Lock()
			s.verified[digest] = c.subject
			s.mu.Unlock()
			return &Subject{Name: c.subject}, nil
		}
	}
	return nil, ErrInvalidToken
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// HashToken returns the bcrypt hash to put in configuration for token.
func HashToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "token must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "hash token")
	}
	return string(hash), nil
}
