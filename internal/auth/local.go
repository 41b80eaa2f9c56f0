package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/security"
	"github.com/backweb/backweb/internal/store"
)

// Local verifies passwords against the users table.
type Local struct {
	Store *store.Store
}

// Authenticate implements Authenticator. When login-with-email is on and
// the login contains '@', the lookup goes through the email column.
func (l *Local) Authenticate(_ context.Context, login, password string) (*Identity, error) {
	user, errFind := l.lookup(login)
	if errFind != nil {
		// Burn a hash check anyway so a missing user costs the same as a
		// wrong password.
		security.CheckPassword("$argon2id$v=19$m=65536,t=3,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", password)
		return nil, ErrInvalidCredentials
	}
	if user.HashPassword == "" || !security.CheckPassword(user.HashPassword, password) {
		return nil, ErrInvalidCredentials
	}
	return &Identity{Username: user.Username, Email: user.Email, Fullname: user.Fullname}, nil
}

func (l *Local) lookup(login string) (*models.User, error) {
	if l.Store.LoginWithEmail && strings.Contains(login, "@") {
		user, errEmail := l.Store.GetUserByEmail(login)
		if errEmail == nil {
			return user, nil
		}
		if !errors.Is(errEmail, store.ErrNotFound) {
			return nil, errEmail
		}
	}
	return l.Store.GetUserByName(login)
}
