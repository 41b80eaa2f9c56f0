package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/backweb/backweb/internal/db"
	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/security"
	"github.com/backweb/backweb/internal/store"
)

func newTestStore(t *testing.T, loginWithEmail bool) *store.Store {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open database: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return store.New(conn, "admin", loginWithEmail, 3)
}

func createUser(t *testing.T, s *store.Store, username, password, status string) *models.User {
	t.Helper()
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		HashPassword: hash,
		Status:       status,
	}
	if errCreate := s.CreateUser(user, nil); errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func TestLocalAuthenticate(t *testing.T) {
	s := newTestStore(t, false)
	createUser(t, s, "joe", "s3cret pass", models.UserStatusActive)
	service := &Service{Store: s, Backends: []Authenticator{&Local{Store: s}}}

	user, errLogin := service.Login(context.Background(), "JOE", "s3cret pass")
	if errLogin != nil {
		t.Fatalf("login: %v", errLogin)
	}
	if user.Username != "joe" {
		t.Fatalf("expected joe, got %s", user.Username)
	}

	for _, attempt := range [][2]string{
		{"joe", "wrong"},
		{"nobody", "s3cret pass"},
		{"", "s3cret pass"},
		{"joe", ""},
	} {
		if _, errBad := service.Login(context.Background(), attempt[0], attempt[1]); !errors.Is(errBad, ErrInvalidCredentials) {
			t.Fatalf("%v: expected opaque credential error, got %v", attempt, errBad)
		}
	}
}

func TestLoginWithEmail(t *testing.T) {
	s := newTestStore(t, true)
	createUser(t, s, "joe", "s3cret pass", models.UserStatusActive)
	service := &Service{Store: s, Backends: []Authenticator{&Local{Store: s}}}

	user, errLogin := service.Login(context.Background(), "joe@example.com", "s3cret pass")
	if errLogin != nil {
		t.Fatalf("login by email: %v", errLogin)
	}
	if user.Username != "joe" {
		t.Fatalf("expected joe, got %s", user.Username)
	}
}

func TestDisabledAndDeletingUsersCannotLogin(t *testing.T) {
	s := newTestStore(t, false)
	createUser(t, s, "gone", "s3cret pass", models.UserStatusDeleting)

	disabled := createUser(t, s, "off", "s3cret pass", models.UserStatusActive)
	disabled.Status = models.UserStatusDisabled
	if errUpdate := s.UpdateUser(disabled, nil); errUpdate != nil {
		t.Fatalf("disable: %v", errUpdate)
	}

	service := &Service{Store: s, Backends: []Authenticator{&Local{Store: s}}}
	for _, username := range []string{"gone", "off"} {
		if _, errLogin := service.Login(context.Background(), username, "s3cret pass"); !errors.Is(errLogin, ErrInvalidCredentials) {
			t.Fatalf("%s must not authenticate, got %v", username, errLogin)
		}
	}
}

// stubBackend authenticates one fixed identity.
type stubBackend struct {
	identity Identity
	password string
}

func (b *stubBackend) Authenticate(_ context.Context, login, password string) (*Identity, error) {
	if login == b.identity.Username && password == b.password {
		return &b.identity, nil
	}
	return nil, ErrInvalidCredentials
}

func TestAutoProvisioning(t *testing.T) {
	s := newTestStore(t, false)
	backend := &stubBackend{
		identity: Identity{Username: "newcomer", Email: "n@example.com", Fullname: "New Comer"},
		password: "ldap pass",
	}
	service := &Service{
		Store:           s,
		Backends:        []Authenticator{&Local{Store: s}, backend},
		AddMissingUser:  true,
		DefaultRole:     models.RoleUser,
		DefaultUserRoot: "/backups/{username}",
	}

	user, errLogin := service.Login(context.Background(), "newcomer", "ldap pass")
	if errLogin != nil {
		t.Fatalf("login: %v", errLogin)
	}
	if user.UserRoot != "/backups/newcomer" {
		t.Fatalf("user root template not expanded: %s", user.UserRoot)
	}
	if user.Role != models.RoleUser || user.Email != "n@example.com" {
		t.Fatalf("unexpected provisioned user %+v", user)
	}
	if _, errFind := s.GetUserByName("newcomer"); errFind != nil {
		t.Fatalf("provisioned row missing: %v", errFind)
	}
}

func TestNoProvisioningWhenDisabled(t *testing.T) {
	s := newTestStore(t, false)
	backend := &stubBackend{
		identity: Identity{Username: "newcomer"},
		password: "ldap pass",
	}
	service := &Service{Store: s, Backends: []Authenticator{backend}}

	if _, errLogin := service.Login(context.Background(), "newcomer", "ldap pass"); !errors.Is(errLogin, ErrInvalidCredentials) {
		t.Fatalf("expected rejection without provisioning, got %v", errLogin)
	}
	if _, errFind := s.GetUserByName("newcomer"); errFind == nil {
		t.Fatal("no row must be created")
	}
}
