// Package web exposes the HTTP surface: ordered middleware, the path
// resolver and every user-facing route.
package web

import (
	"time"

	"github.com/backweb/backweb/internal/auth"
	"github.com/backweb/backweb/internal/config"
	"github.com/backweb/backweb/internal/notify"
	"github.com/backweb/backweb/internal/ratelimit"
	"github.com/backweb/backweb/internal/restore"
	"github.com/backweb/backweb/internal/scheduler"
	"github.com/backweb/backweb/internal/security"
	"github.com/backweb/backweb/internal/session"
	"github.com/backweb/backweb/internal/store"
	"github.com/gin-gonic/gin"
)

// Context keys set by the middleware chain.
const (
	ctxSession = "backweb.session"
	ctxUser    = "backweb.user"
	ctxToken   = "backweb.token"
)

// Server groups every dependency of the HTTP layer.
type Server struct {
	Cfg      config.Config
	Store    *store.Store
	Sessions *session.Manager
	Auth     *auth.Service
	OIDC     *auth.OIDC
	Limiter  *ratelimit.Limiter
	Restorer *restore.Restorer
	Jobs     *scheduler.Scheduler
	Mailer   notify.Sender

	// Policy validates password changes.
	Policy security.PasswordPolicy
	// DeleteData removes bytes on disk when a repository or path is
	// deleted; the same knob gates the background deletion processor.
	DeleteData bool
	// rateWindow is the fixed rate-limit window.
	rateWindow time.Duration
}

// New assembles the Server.
func New(cfg config.Config, st *store.Store, sessions *session.Manager, authService *auth.Service,
	oidc *auth.OIDC, limiter *ratelimit.Limiter, restorer *restore.Restorer,
	jobs *scheduler.Scheduler, mailer notify.Sender) *Server {
	policy := security.PasswordPolicy{
		MinLength: cfg.PasswordMinLength,
		MaxLength: cfg.PasswordMaxLength,
		MinScore:  cfg.PasswordScore,
	}
	return &Server{
		Cfg:        cfg,
		Store:      st,
		Sessions:   sessions,
		Auth:       authService,
		OIDC:       oidc,
		Limiter:    limiter,
		Restorer:   restorer,
		Jobs:       jobs,
		Mailer:     mailer,
		Policy:     policy,
		DeleteData: !cfg.DisableDataDeletion,
		rateWindow: time.Hour,
	}
}

// Register installs the middleware chain and every route on the engine.
func (s *Server) Register(engine *gin.Engine) {
	engine.Use(s.originCheck())
	engine.Use(s.secureHeaders())
	engine.Use(s.sessionDecode())

	// Anonymous surface.
	engine.GET("/login/", s.loginForm)
	engine.POST("/login/", s.rateLimitGate("login", false), s.loginSubmit)
	engine.POST("/logout/", s.logoutSubmit)
	if s.OIDC.Enabled() {
		engine.GET("/oauth/login", s.oauthRedirect)
		engine.GET("/oauth/callback", s.oauthCallback)
	}

	// MFA pages only require a pending session.
	engine.GET("/mfa/", s.requireUser(), s.mfaForm)
	engine.POST("/mfa/", s.requireUser(), s.rateLimitGate("mfa", true), s.mfaSubmit)

	authed := engine.Group("", s.requireUser(), s.mfaGate())
	authed.GET("/", s.dashboard)
	authed.GET("/browse/*path", s.browse)
	authed.GET("/history/*path", s.history)
	authed.GET("/restore/*path", s.restoreDownload)
	authed.POST("/delete/*path", s.requireMaintainer(), s.deletePath)
	authed.GET("/status/feed", s.statusFeed)

	authed.GET("/prefs/general", s.prefsGeneral)
	authed.POST("/prefs/general", s.prefsGeneralSubmit)
	authed.GET("/prefs/mfa", s.prefsMfa)
	authed.POST("/prefs/mfa", s.prefsMfaSubmit)
	authed.GET("/prefs/tokens", s.prefsTokens)
	authed.POST("/prefs/tokens", s.prefsTokensSubmit)
	authed.GET("/prefs/sshkeys", s.prefsSshKeys)
	authed.POST("/prefs/sshkeys", s.prefsSshKeysSubmit)

	// Token/basic authenticated JSON API.
	api := engine.Group("/api", s.apiAuth())
	api.GET("/currentuser", s.requireScope(security.ScopeReadUser), s.apiCurrentUser)
	api.POST("/currentuser", s.requireScope(security.ScopeWriteUser), s.apiCurrentUserUpdate)
	admin := api.Group("/users", s.requireAdminUser())
	admin.GET("", s.requireScope(security.ScopeAdminReadUsers), s.apiListUsers)
	admin.GET("/:ref", s.requireScope(security.ScopeAdminReadUsers), s.apiGetUser)
	admin.POST("", s.requireScope(security.ScopeAdminWriteUsers), s.apiCreateUser)
	admin.POST("/:ref", s.requireScope(security.ScopeAdminWriteUsers), s.apiUpdateUser)
	admin.DELETE("/:ref", s.requireScope(security.ScopeAdminWriteUsers), s.apiDeleteUser)
}
