// Package auth resolves login credentials against pluggable backends and
// provisions accounts for externally authenticated users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/store"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidCredentials is the single opaque failure returned to the
// login form, regardless of which backend rejected the attempt.
var ErrInvalidCredentials = errors.New("auth: invalid username or password")

// Identity is what a backend knows about an authenticated principal.
type Identity struct {
	Username string
	Email    string
	Fullname string
}

// Authenticator verifies one credential pair. A backend that does not
// recognize the login returns ErrInvalidCredentials so the next backend
// gets a chance.
type Authenticator interface {
	Authenticate(ctx context.Context, login, password string) (*Identity, error)
}

// Service runs the authentication pipeline over an ordered backend list.
type Service struct {
	Store    *store.Store
	Backends []Authenticator

	// AddMissingUser provisions accounts for logins that succeed against
	// an external backend but have no user row yet.
	AddMissingUser  bool
	DefaultRole     int
	DefaultUserRoot string
}

// Login authenticates the pair and returns the matching active user.
// Every failure path collapses into ErrInvalidCredentials; details stay
// in the log.
func (s *Service) Login(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	var identity *Identity
	for _, backend := range s.Backends {
		resolved, errAuth := backend.Authenticate(ctx, login, password)
		if errAuth == nil {
			identity = resolved
			break
		}
		if !errors.Is(errAuth, ErrInvalidCredentials) {
			log.WithError(errAuth).Warnf("auth backend error for %s", login)
		}
	}
	if identity == nil {
		return nil, ErrInvalidCredentials
	}
	return s.Resolve(identity)
}

// Resolve maps an authenticated identity onto a user row, provisioning
// one when permitted. Disabled and deleting accounts never log in.
func (s *Service) Resolve(identity *Identity) (*models.User, error) {
	user, errFind := s.Store.GetUserByName(identity.Username)
	if errors.Is(errFind, store.ErrNotFound) && s.AddMissingUser {
		provisioned, errProvision := s.provision(identity)
		if errProvision != nil {
			log.WithError(errProvision).Errorf("provision user %s", identity.Username)
			return nil, ErrInvalidCredentials
		}
		user = provisioned
		errFind = nil
	}
	if errFind != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.CanAuthenticate() {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// provision creates a user row for an externally authenticated identity.
// The user root template expands {username}.
func (s *Service) provision(identity *Identity) (*models.User, error) {
	user := &models.User{
		Username: identity.Username,
		Email:    identity.Email,
		Fullname: identity.Fullname,
		Role:     s.DefaultRole,
		UserRoot: strings.ReplaceAll(s.DefaultUserRoot, "{username}", identity.Username),
		Status:   models.UserStatusActive,
	}
	if errCreate := s.Store.CreateUser(user, nil); errCreate != nil {
		return nil, fmt.Errorf("auth: provision %s: %w", identity.Username, errCreate)
	}
	log.Infof("provisioned user %s from external backend", identity.Username)
	return user, nil
}
