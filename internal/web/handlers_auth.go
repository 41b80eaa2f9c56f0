package web

import (
	"errors"
	"net/http"

	"github.com/backweb/backweb/internal/auth"
	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/security"
	"github.com/backweb/backweb/internal/session"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// invalidCredentialsMsg is intentionally opaque: the same message covers
// unknown users, wrong passwords and disabled accounts.
const invalidCredentialsMsg = "Invalid username or password"

type loginRequest struct {
	Login      string `form:"login"`
	Password   string `form:"password"`
	Persistent bool   `form:"persistent"`
	Redirect   string `form:"redirect"`
}

// loginForm renders the login page metadata.
func (s *Server) loginForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"header_name":   s.Cfg.HeaderName,
		"welcome_msg":   s.Cfg.WelcomeMsg,
		"oauth_enabled": s.OIDC.Enabled(),
	})
}

// loginSubmit authenticates the posted credentials. Failures always
// return 200 with the opaque message and burn one rate-limit hit; the
// gate in front of this handler only peeks.
func (s *Server) loginSubmit(c *gin.Context) {
	var form loginRequest
	if errBind := c.ShouldBind(&form); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": errBind.Error()})
		return
	}
	user, errLogin := s.Auth.Login(c.Request.Context(), form.Login, form.Password)
	if errLogin != nil {
		if !errors.Is(errLogin, auth.ErrInvalidCredentials) {
			log.Errorf("login backend failure for %s: %v", form.Login, errLogin)
		}
		s.consumeRate(c, "login")
		c.JSON(http.StatusOK, gin.H{"message": invalidCredentialsMsg})
		return
	}
	s.completeLogin(c, user, form.Persistent, form.Redirect)
}

// completeLogin binds the session to the user, reissues the cookie and
// routes through the MFA page when the account requires it.
func (s *Server) completeLogin(c *gin.Context, user *models.User, persistent bool, redirect string) {
	sess := currentSession(c)
	if redirect != "" {
		sess.Set(models.SessionKeyPendingRedirectURL, redirect)
	}
	if errLogin := s.Sessions.Login(sess, user, persistent); errLogin != nil {
		s.abortError(c, errLogin, false)
		return
	}
	s.setSessionCookie(c, sess.ID())
	log.Infof("user %s logged in from %s", user.Username, c.ClientIP())
	if user.MfaEnabled {
		c.Redirect(http.StatusSeeOther, "/mfa/")
		return
	}
	target := sess.PopRedirectURL()
	if errSave := s.Sessions.Save(sess); errSave != nil {
		s.abortError(c, errSave, false)
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}

// logoutSubmit drops the session and returns to the login page.
func (s *Server) logoutSubmit(c *gin.Context) {
	sess := currentSession(c)
	if sess.Authenticated() {
		log.Infof("user %s logged out", sess.Username())
	}
	if errLogout := s.Sessions.Logout(sess); errLogout != nil {
		s.abortError(c, errLogout, false)
		return
	}
	s.setSessionCookie(c, "")
	c.Redirect(http.StatusSeeOther, "/login/")
}

// mfaForm sends a verification code when none is pending and renders
// the prompt. Resend throttling keeps page reloads from spamming the
// inbox.
func (s *Server) mfaForm(c *gin.Context) {
	sess := currentSession(c)
	user := currentUser(c)
	if s.Sessions.MfaStateFor(sess, user, c.ClientIP()) != session.MfaPending {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	if errSend := s.Sessions.SendMfaCode(sess, user, false); errSend != nil && !errors.Is(errSend, session.ErrResendThrottled) {
		s.abortError(c, errSend, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "A verification code has been sent to your email."})
}

type mfaRequest struct {
	Code   string `form:"code"`
	Resend bool   `form:"resend"`
}

// mfaSubmit verifies a submitted code, or resends one on request.
// Failures burn a rate-limit hit; the gate logs the session out when
// the budget is exhausted.
func (s *Server) mfaSubmit(c *gin.Context) {
	sess := currentSession(c)
	user := currentUser(c)
	var form mfaRequest
	if errBind := c.ShouldBind(&form); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": errBind.Error()})
		return
	}
	if form.Resend {
		if errSend := s.Sessions.SendMfaCode(sess, user, true); errSend != nil {
			s.abortError(c, errSend, false)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "A new verification code has been sent to your email."})
		return
	}
	ok, errVerify := s.Sessions.VerifyMfaCode(sess, user, form.Code, c.ClientIP())
	if errVerify != nil {
		s.abortError(c, errVerify, false)
		return
	}
	if !ok {
		s.consumeRate(c, "mfa")
		c.JSON(http.StatusOK, gin.H{"message": "Invalid verification code."})
		return
	}
	s.setSessionCookie(c, sess.ID())
	target := sess.PopRedirectURL()
	if errSave := s.Sessions.Save(sess); errSave != nil {
		s.abortError(c, errSave, false)
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}

// oauthRedirect bounces the browser to the identity provider, with a
// random state bound to the session.
func (s *Server) oauthRedirect(c *gin.Context) {
	sess := currentSession(c)
	state, errState := security.GenerateSessionID()
	if errState != nil {
		s.abortError(c, errState, false)
		return
	}
	sess.Set("oauth_state", state)
	if errSave := s.Sessions.Save(sess); errSave != nil {
		s.abortError(c, errSave, false)
		return
	}
	c.Redirect(http.StatusSeeOther, s.OIDC.AuthCodeURL(state))
}

// oauthCallback exchanges the authorization code and signs the mapped
// identity in, provisioning the account when configured to.
func (s *Server) oauthCallback(c *gin.Context) {
	sess := currentSession(c)
	expected := sess.GetString("oauth_state")
	sess.Delete("oauth_state")
	if expected == "" || c.Query("state") != expected {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid state parameter"})
		return
	}
	identity, errExchange := s.OIDC.Exchange(c.Request.Context(), c.Query("code"))
	if errExchange != nil {
		log.Errorf("oauth exchange: %v", errExchange)
		c.JSON(http.StatusOK, gin.H{"message": invalidCredentialsMsg})
		return
	}
	user, errResolve := s.Auth.Resolve(identity)
	if errResolve != nil {
		log.Warnf("oauth identity %s rejected: %v", identity.Username, errResolve)
		c.JSON(http.StatusOK, gin.H{"message": invalidCredentialsMsg})
		return
	}
	s.completeLogin(c, user, false, "")
}
