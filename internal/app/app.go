// Package app wires configuration, storage, background jobs and the HTTP
// server into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/backweb/backweb/internal/auth"
	"github.com/backweb/backweb/internal/config"
	"github.com/backweb/backweb/internal/db"
	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/notify"
	"github.com/backweb/backweb/internal/ratelimit"
	"github.com/backweb/backweb/internal/restore"
	"github.com/backweb/backweb/internal/scheduler"
	"github.com/backweb/backweb/internal/security"
	"github.com/backweb/backweb/internal/session"
	"github.com/backweb/backweb/internal/store"
	"github.com/backweb/backweb/internal/web"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging configures logrus from the configuration.
func setupLogging(cfg config.Config) {
	level, errParse := log.ParseLevel(cfg.LogLevel)
	if errParse != nil {
		level = log.InfoLevel
		log.Warnf("unknown log level %q, using info", cfg.LogLevel)
	}
	log.SetLevel(level)
	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
}

// Migrate opens the database and applies the schema.
func Migrate(cfg config.Config) error {
	conn, errOpen := db.Open(cfg.DatabaseURI)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// seedAdmin makes sure the protected admin account exists, applying the
// configured credential when one is set.
func seedAdmin(st *store.Store, cfg config.Config) error {
	user, errGet := st.GetUserByName(cfg.AdminUser)
	if errors.Is(errGet, store.ErrNotFound) {
		user = &models.User{
			Username: cfg.AdminUser,
			Role:     models.RoleAdmin,
			Status:   models.UserStatusActive,
		}
		if cfg.AdminPassword != "" {
			hashed, errHash := security.HashPassword(cfg.AdminPassword)
			if errHash != nil {
				return errHash
			}
			user.HashPassword = hashed
		}
		log.Infof("creating admin user %s", cfg.AdminUser)
		return st.CreateUser(user, nil)
	}
	if errGet != nil {
		return errGet
	}
	if cfg.AdminPassword != "" && !security.CheckPassword(user.HashPassword, cfg.AdminPassword) {
		hashed, errHash := security.HashPassword(cfg.AdminPassword)
		if errHash != nil {
			return errHash
		}
		user.HashPassword = hashed
		return st.UpdateUser(user, nil)
	}
	return nil
}

// buildRateLimitStore picks the limiter backend: Redis when a URI is
// configured, files when a directory is, memory otherwise.
func buildRateLimitStore(cfg config.Config) (ratelimit.Store, error) {
	if cfg.RateLimitRedisURI != "" {
		return ratelimit.NewRedisStore(cfg.RateLimitRedisURI)
	}
	if cfg.RateLimitDir != "" {
		return ratelimit.NewFileStore(cfg.RateLimitDir)
	}
	return ratelimit.NewMemoryStore(), nil
}

// buildMailer returns the SMTP sender, or a discard sender when no host
// is configured.
func buildMailer(cfg config.Config) notify.Sender {
	if cfg.SMTPServer == "" {
		return notify.Discard{}
	}
	return &notify.SMTP{
		Host:     cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPSender,
		SSL:      strings.EqualFold(cfg.SMTPEncryptionMode, "ssl"),
	}
}

// buildAuthService assembles the backend chain: local passwords first,
// then LDAP when configured.
func buildAuthService(st *store.Store, cfg config.Config) *auth.Service {
	backends := []auth.Authenticator{&auth.Local{Store: st}}
	if cfg.LdapURI != "" {
		ldap := auth.NewLDAP(cfg.LdapURI, cfg.LdapBaseDN, cfg.LdapBindDN, cfg.LdapBindPassword)
		ldap.UsernameAttribute = cfg.LdapUsernameAttribute
		ldap.EmailAttribute = cfg.LdapEmailAttribute
		ldap.FullnameAttribute = cfg.LdapFullnameAttribute
		backends = append(backends, ldap)
	}
	return &auth.Service{
		Store:           st,
		Backends:        backends,
		AddMissingUser:  cfg.AddMissingUser,
		DefaultRole:     parseRole(cfg.AddUserDefaultRole),
		DefaultUserRoot: cfg.AddUserDefaultUserRoot,
	}
}

func parseRole(name string) int {
	switch strings.ToLower(name) {
	case "admin":
		return models.RoleAdmin
	case "maintainer":
		return models.RoleMaintainer
	default:
		return models.RoleUser
	}
}

// RunServer boots the whole application and serves until the context is
// cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	setupLogging(cfg)

	conn, errOpen := db.Open(cfg.DatabaseURI)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	st := store.New(conn, cfg.AdminUser, cfg.LoginWithEmail, cfg.MaxDepth)
	if errSeed := seedAdmin(st, cfg); errSeed != nil {
		return fmt.Errorf("seed admin user: %w", errSeed)
	}

	mailer := buildMailer(cfg)
	sessions := session.NewManager(st, mailer)
	sessions.CookieName = cfg.SessionCookieName
	sessions.IdleTimeout = cfg.IdleTimeout()
	sessions.PersistentTimeout = cfg.PersistentTimeout()
	sessions.AbsoluteTimeout = cfg.AbsoluteTimeout()
	sessions.MfaCodeTTL = cfg.MfaCodeTimeout()
	sessions.MfaWindow = cfg.MfaVerifiedTimeout()

	limitStore, errLimit := buildRateLimitStore(cfg)
	if errLimit != nil {
		return fmt.Errorf("rate limit store: %w", errLimit)
	}

	restorer := restore.New(cfg.RdiffBackupPath, cfg.TempDir, cfg.RestoreTimeout())

	sched := scheduler.New(10)
	jobs := &scheduler.Jobs{
		Store:           st,
		Mailer:          mailer,
		Runner:          scheduler.ExecRunner,
		RdiffBackupPath: cfg.RdiffBackupPath,
		DeleteData:      !cfg.DisableDataDeletion,
	}
	if errJobs := jobs.Register(sched); errJobs != nil {
		return fmt.Errorf("register jobs: %w", errJobs)
	}
	sched.Start()
	defer sched.Stop()

	oidc := auth.NewOIDC(cfg.OauthClientID, cfg.OauthClientSecret, cfg.OauthAuthURL,
		cfg.OauthTokenURL, cfg.OauthRedirectURL, cfg.OauthUserkeyClaim, cfg.OauthFullnameClaim)

	server := web.New(cfg, st, sessions, buildAuthService(st, cfg), oidc,
		ratelimit.New(limitStore), restorer, sched, mailer)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	server.Register(engine)

	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	errServe := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		errServe <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errServe:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
