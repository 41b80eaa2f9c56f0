package store

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backweb/backweb/internal/db"
	"github.com/backweb/backweb/internal/models"
	"golang.org/x/crypto/ssh"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open database: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return New(conn, "admin", true, 3)
}

func mustCreateUser(t *testing.T, s *Store, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: username + "@example.com"}
	if errCreate := s.CreateUser(user, nil); errCreate != nil {
		t.Fatalf("create user %s: %v", username, errCreate)
	}
	return user
}

func TestCreateUserAndLookup(t *testing.T) {
	s := newTestStore(t)
	created := mustCreateUser(t, s, "Joe")

	found, errFind := s.GetUserByName("joe")
	if errFind != nil {
		t.Fatalf("case-insensitive lookup: %v", errFind)
	}
	if found.ID != created.ID {
		t.Fatalf("expected id %d, got %d", created.ID, found.ID)
	}
	if found.Status != models.UserStatusActive {
		t.Fatalf("expected active status, got %s", found.Status)
	}

	byEmail, errEmail := s.GetUserByEmail("JOE@example.com")
	if errEmail != nil {
		t.Fatalf("email lookup: %v", errEmail)
	}
	if byEmail.ID != created.ID {
		t.Fatalf("expected id %d, got %d", created.ID, byEmail.ID)
	}
}

func TestCreateUserValidation(t *testing.T) {
	s := newTestStore(t)
	for _, username := range []string{"", "1joe", "jo e", ".joe"} {
		if errCreate := s.CreateUser(&models.User{Username: username}, nil); !errors.Is(errCreate, ErrValidation) {
			t.Fatalf("username %q: expected validation error, got %v", username, errCreate)
		}
	}
	mustCreateUser(t, s, "joe")
	if errDup := s.CreateUser(&models.User{Username: "JOE"}, nil); !errors.Is(errDup, ErrIntegrity) {
		t.Fatalf("expected integrity error on duplicate username, got %v", errDup)
	}
}

func TestAdminUserProtected(t *testing.T) {
	s := newTestStore(t)
	admin := mustCreateUser(t, s, "admin")

	admin.Status = models.UserStatusDisabled
	if errUpdate := s.UpdateUser(admin, nil); !errors.Is(errUpdate, ErrProtected) {
		t.Fatalf("expected protected error on disable, got %v", errUpdate)
	}
	if errFlag := s.FlagUserDeleting(admin.ID, nil); !errors.Is(errFlag, ErrProtected) {
		t.Fatalf("expected protected error on flag, got %v", errFlag)
	}
	if errDelete := s.DeleteUser(admin.ID); !errors.Is(errDelete, ErrProtected) {
		t.Fatalf("expected protected error on delete, got %v", errDelete)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := newTestStore(t)
	user := mustCreateUser(t, s, "joe")
	if errCreate := s.DB.Create(&models.Repo{UserID: user.ID, Repopath: "backup", Keepdays: models.KeepForever}).Error; errCreate != nil {
		t.Fatalf("create repo: %v", errCreate)
	}
	if _, _, errToken := s.CreateAccessToken(user, "laptop", nil, nil); errToken != nil {
		t.Fatalf("create token: %v", errToken)
	}
	if errSession := s.SaveSession(&models.Session{
		ID: "abc", Username: user.Username,
		StartTime: time.Now(), LastAccessTime: time.Now(),
		ExpirationTime: time.Now().Add(time.Hour),
	}); errSession != nil {
		t.Fatalf("save session: %v", errSession)
	}

	if errDelete := s.DeleteUser(user.ID); errDelete != nil {
		t.Fatalf("delete user: %v", errDelete)
	}
	for _, model := range []any{&models.Repo{}, &models.AccessToken{}} {
		var count int64
		if errCount := s.DB.Model(model).Where("user_id = ?", user.ID).Count(&count).Error; errCount != nil {
			t.Fatalf("count: %v", errCount)
		}
		if count != 0 {
			t.Fatalf("expected cascade delete, %T count = %d", model, count)
		}
	}
	if _, errGet := s.GetSession("abc"); !errors.Is(errGet, ErrNotFound) {
		t.Fatalf("expected session gone, got %v", errGet)
	}
}

func TestUpdateUserRecordsRedactedDiff(t *testing.T) {
	s := newTestStore(t)
	user := mustCreateUser(t, s, "joe")
	user.HashPassword = "$argon2id$..."
	user.Lang = "fr"
	if errUpdate := s.UpdateUser(user, nil); errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}

	messages, errList := s.Messages("user", user.ID, 1)
	if errList != nil {
		t.Fatalf("messages: %v", errList)
	}
	if len(messages) != 1 || messages[0].Type != models.MessageTypeDirty {
		t.Fatalf("expected one dirty message, got %+v", messages)
	}
	body := string(messages[0].Changes)
	if strings.Contains(body, "argon2id") {
		t.Fatalf("password hash leaked into audit trail: %s", body)
	}
	if !strings.Contains(body, "HashPassword") || !strings.Contains(body, "fr") {
		t.Fatalf("unexpected audit changes: %s", body)
	}
}

func TestRefreshReposDiscoversDataDirs(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	for _, dir := range []string{
		filepath.Join(root, "desktop", "rdiff-backup-data"),
		filepath.Join(root, "nested", "laptop", "rdiff-backup-data"),
		filepath.Join(root, "nested", "laptop", "inner", "rdiff-backup-data"),
		filepath.Join(root, "too", "deep", "for", "walk", "rdiff-backup-data"),
		filepath.Join(root, "plain"),
	} {
		if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
			t.Fatalf("mkdir: %v", errMkdir)
		}
	}

	user := mustCreateUser(t, s, "joe")
	user.UserRoot = root
	if errUpdate := s.UpdateUser(user, nil); errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if errRefresh := s.RefreshRepos(user, false); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}

	repos, errList := s.ListRepos(user.ID)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	var paths []string
	for _, repo := range repos {
		paths = append(paths, repo.Repopath)
	}
	// The walk stops at a repository, never descends past MaxDepth, and
	// ignores directories without rdiff-backup-data.
	want := []string{"desktop", "nested/laptop"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, paths)
		}
	}
}

func TestRefreshReposDeleteMissing(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	if errMkdir := os.MkdirAll(filepath.Join(root, "desktop", "rdiff-backup-data"), 0o755); errMkdir != nil {
		t.Fatalf("mkdir: %v", errMkdir)
	}
	user := mustCreateUser(t, s, "joe")
	user.UserRoot = root
	if errUpdate := s.UpdateUser(user, nil); errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if errCreate := s.DB.Create(&models.Repo{UserID: user.ID, Repopath: "vanished", Keepdays: models.KeepForever}).Error; errCreate != nil {
		t.Fatalf("create repo: %v", errCreate)
	}

	if errRefresh := s.RefreshRepos(user, true); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	repos, errList := s.ListRepos(user.ID)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(repos) != 1 || repos[0].Repopath != "desktop" {
		t.Fatalf("expected only desktop to survive, got %+v", repos)
	}
}

func TestAccessTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	user := mustCreateUser(t, s, "joe")

	secret, token, errCreate := s.CreateAccessToken(user, "laptop", []string{"read_user"}, nil)
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}
	if secret == "" || token.HashSecret == secret {
		t.Fatal("expected hashed storage with cleartext returned once")
	}
	if _, _, errDup := s.CreateAccessToken(user, "laptop", nil, nil); !errors.Is(errDup, ErrIntegrity) {
		t.Fatalf("expected integrity error on duplicate name, got %v", errDup)
	}
	if _, _, errScope := s.CreateAccessToken(user, "bad", []string{"launch_missiles"}, nil); !errors.Is(errScope, ErrValidation) {
		t.Fatalf("expected validation error on unknown scope, got %v", errScope)
	}

	authUser, authToken, errAuth := s.AuthenticateToken("JOE", secret)
	if errAuth != nil {
		t.Fatalf("authenticate: %v", errAuth)
	}
	if authUser.ID != user.ID || authToken.AccessTime == nil {
		t.Fatalf("expected matching user with access time set, got %+v", authToken)
	}
	if !authToken.HasScope("read_user") || authToken.HasScope("write_user") {
		t.Fatalf("unexpected scopes: %s", authToken.Scopes)
	}
	if _, _, errBad := s.AuthenticateToken("joe", "wrong"); !errors.Is(errBad, ErrNotFound) {
		t.Fatalf("expected not found on bad secret, got %v", errBad)
	}

	if errDelete := s.DeleteAccessToken(user.ID, "laptop"); errDelete != nil {
		t.Fatalf("delete token: %v", errDelete)
	}
	if _, _, errGone := s.AuthenticateToken("joe", secret); !errors.Is(errGone, ErrNotFound) {
		t.Fatalf("expected not found after revocation, got %v", errGone)
	}
}

func TestExpiredTokensIgnoredAndCleaned(t *testing.T) {
	s := newTestStore(t)
	user := mustCreateUser(t, s, "joe")
	past := time.Now().Add(-time.Hour)
	secret, _, errCreate := s.CreateAccessToken(user, "stale", nil, &past)
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}
	if _, _, errAuth := s.AuthenticateToken("joe", secret); !errors.Is(errAuth, ErrNotFound) {
		t.Fatalf("expected expired token rejected, got %v", errAuth)
	}
	removed, errCleanup := s.CleanupExpiredTokens(time.Now())
	if errCleanup != nil {
		t.Fatalf("cleanup: %v", errCleanup)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed token, got %d", removed)
	}
}

func testAuthorizedKey(t *testing.T, comment string) string {
	t.Helper()
	public, _, errGen := ed25519.GenerateKey(rand.Reader)
	if errGen != nil {
		t.Fatalf("generate key: %v", errGen)
	}
	sshKey, errConvert := ssh.NewPublicKey(public)
	if errConvert != nil {
		t.Fatalf("convert key: %v", errConvert)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshKey)))
	if comment != "" {
		line += " " + comment
	}
	return line
}

func TestSshKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	joe := mustCreateUser(t, s, "joe")
	jane := mustCreateUser(t, s, "jane")

	line := testAuthorizedKey(t, "joe@laptop")
	key, errAdd := s.AddSshKey(joe, line, "")
	if errAdd != nil {
		t.Fatalf("add key: %v", errAdd)
	}
	if key.Comment != "joe@laptop" {
		t.Fatalf("expected comment from key line, got %q", key.Comment)
	}
	if len(strings.Split(key.Fingerprint, ":")) != 16 {
		t.Fatalf("unexpected fingerprint format: %s", key.Fingerprint)
	}

	if _, errDup := s.AddSshKey(jane, line, ""); !errors.Is(errDup, ErrIntegrity) {
		t.Fatalf("expected integrity error on cross-account reuse, got %v", errDup)
	}
	if _, errBad := s.AddSshKey(joe, "not a key", ""); !errors.Is(errBad, ErrValidation) {
		t.Fatalf("expected validation error on garbage, got %v", errBad)
	}

	if errDelete := s.DeleteSshKey(joe.ID, key.Fingerprint); errDelete != nil {
		t.Fatalf("delete key: %v", errDelete)
	}
	keys, errList := s.ListSshKeys(joe.ID)
	if errList != nil {
		t.Fatalf("list keys: %v", errList)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys left, got %d", len(keys))
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	live := &models.Session{ID: "live", Username: "joe", StartTime: now, LastAccessTime: now, ExpirationTime: now.Add(time.Hour)}
	other := &models.Session{ID: "other", Username: "joe", StartTime: now, LastAccessTime: now, ExpirationTime: now.Add(time.Hour)}
	stale := &models.Session{ID: "stale", Username: "joe", StartTime: now.Add(-2 * time.Hour), LastAccessTime: now.Add(-2 * time.Hour), ExpirationTime: now.Add(-time.Hour)}
	for _, session := range []*models.Session{live, other, stale} {
		if errSave := s.SaveSession(session); errSave != nil {
			t.Fatalf("save %s: %v", session.ID, errSave)
		}
	}

	if _, errGet := s.GetSession("live"); errGet != nil {
		t.Fatalf("get live: %v", errGet)
	}
	if _, errStale := s.GetSession("stale"); !errors.Is(errStale, ErrNotFound) {
		t.Fatalf("expected expired session treated as missing, got %v", errStale)
	}

	removed, errOthers := s.DeleteOtherSessions("joe", "live")
	if errOthers != nil {
		t.Fatalf("delete others: %v", errOthers)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed sessions, got %d", removed)
	}
	if _, errGet := s.GetSession("live"); errGet != nil {
		t.Fatalf("kept session must survive: %v", errGet)
	}

	if errSave := s.SaveSession(stale); errSave != nil {
		t.Fatalf("save stale: %v", errSave)
	}
	swept, errSweep := s.SweepSessions(time.Now())
	if errSweep != nil {
		t.Fatalf("sweep: %v", errSweep)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept session, got %d", swept)
	}
}
