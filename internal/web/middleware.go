package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/session"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// originCheck rejects state-changing requests whose Origin header does
// not match the request host. Safe methods pass untouched.
func (s *Server) originCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		default:
			c.Next()
			return
		}
		// Only an absent header passes; "null" (sandboxed frames) and any
		// scheme or host mismatch is rejected.
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		expected := scheme + "://" + c.Request.Host
		if !strings.EqualFold(origin, expected) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Unexpected Origin header"})
			return
		}
		c.Next()
	}
}

// secureHeaders stamps the hardening headers on every response.
func (s *Server) secureHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("X-Frame-Options", "DENY")
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-XSS-Protection", "1; mode=block")
		header.Set("Referrer-Policy", "same-origin")
		header.Set("Content-Security-Policy",
			"default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")
		header.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		header.Set("Pragma", "no-cache")
		header.Set("Expires", "0")
		if c.Request.TLS != nil {
			header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// sessionDecode resolves the session cookie to a server-side session,
// holding the per-session lock for the whole request so concurrent
// requests sharing one cookie are serialized.
func (s *Server) sessionDecode() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookieID := ""
		if cookie, errCookie := c.Request.Cookie(s.Sessions.CookieName); errCookie == nil {
			cookieID = cookie.Value
		}
		if cookieID != "" {
			unlock := s.Sessions.Lock(cookieID)
			defer unlock()
		}
		sess, wasExpired, errLoad := s.Sessions.Load(cookieID)
		if errLoad != nil {
			log.Errorf("session load: %v", errLoad)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
			return
		}
		if wasExpired && c.Request.Method == http.MethodGet {
			// The next login returns the user where the timeout hit.
			sess.Set(models.SessionKeyPendingRedirectURL, c.Request.URL.RequestURI())
			if errSave := s.Sessions.Save(sess); errSave != nil {
				log.Errorf("session save: %v", errSave)
			}
		}
		if sess.ID() != cookieID {
			s.setSessionCookie(c, sess.ID())
		}
		c.Set(ctxSession, sess)
		c.Next()
	}
}

// setSessionCookie (re)issues the session cookie. Handlers call it again
// after rotation, so any earlier Set-Cookie for the session is dropped
// first and the response never carries two ids.
func (s *Server) setSessionCookie(c *gin.Context, id string) {
	cookie := &http.Cookie{
		Name:     s.Sessions.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	header := c.Writer.Header()
	prefix := s.Sessions.CookieName + "="
	kept := make([]string, 0, len(header["Set-Cookie"])+1)
	for _, line := range header["Set-Cookie"] {
		if !strings.HasPrefix(line, prefix) {
			kept = append(kept, line)
		}
	}
	header["Set-Cookie"] = append(kept, cookie.String())
}

// currentSession returns the request session placed by sessionDecode.
func currentSession(c *gin.Context) *session.Session {
	value, _ := c.Get(ctxSession)
	sess, _ := value.(*session.Session)
	return sess
}

// currentUser returns the authenticated user, nil for anonymous or
// token-less API requests.
func currentUser(c *gin.Context) *models.User {
	value, _ := c.Get(ctxUser)
	user, _ := value.(*models.User)
	return user
}

// requireUser gates authenticated routes. Anonymous requests capture
// the target URL and bounce to the login page.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := currentSession(c)
		if sess == nil || !sess.Authenticated() {
			s.redirectToLogin(c, sess)
			return
		}
		user, errGet := s.Store.GetUserByName(sess.Username())
		if errGet != nil || !user.CanAuthenticate() {
			// The account vanished or was disabled mid-session.
			_ = s.Sessions.Logout(sess)
			s.redirectToLogin(c, nil)
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func (s *Server) redirectToLogin(c *gin.Context, sess *session.Session) {
	if sess != nil && c.Request.Method == http.MethodGet {
		sess.Set(models.SessionKeyPendingRedirectURL, c.Request.URL.RequestURI())
		if errSave := s.Sessions.Save(sess); errSave != nil {
			log.Errorf("session save: %v", errSave)
		}
	}
	c.Abort()
	c.Redirect(http.StatusSeeOther, "/login/")
}

// mfaGate bounces sessions pending verification to the MFA page.
func (s *Server) mfaGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := currentSession(c)
		user := currentUser(c)
		if s.Sessions.MfaStateFor(sess, user, c.ClientIP()) == session.MfaPending {
			c.Abort()
			c.Redirect(http.StatusSeeOther, "/mfa/")
			return
		}
		c.Next()
	}
}

// requireMaintainer hides maintainer-only routes from plain users.
func (s *Server) requireMaintainer() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !user.IsMaintainer() {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "Not Found"})
			return
		}
		c.Next()
	}
}

// rateIdentifier keys the limiter on the username when known, the remote
// address otherwise.
func (s *Server) rateIdentifier(c *gin.Context) string {
	if sess := currentSession(c); sess != nil && sess.Authenticated() {
		return sess.Username()
	}
	return c.ClientIP()
}

// rateLimitGate peeks at the counter without consuming a hit: handlers
// call consumeRate on the failure path so successful requests stay free.
// When logoutOnLimit is set, an exhausted counter also drops the session.
func (s *Server) rateLimitGate(scope string, logoutOnLimit bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, errCheck := s.Limiter.Check(s.rateIdentifier(c), c.Request.Method, scope, s.rateWindow, s.Cfg.RateLimit, 0)
		if errCheck != nil {
			log.Errorf("rate limit check: %v", errCheck)
			c.Next()
			return
		}
		if result.Limit > 0 {
			header := c.Writer.Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			header.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.Reset.Unix()))
		}
		if !result.Allowed {
			if logoutOnLimit {
				if sess := currentSession(c); sess != nil {
					_ = s.Sessions.Logout(sess)
				}
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

// consumeRate burns one hit on the failure path of a guarded handler.
func (s *Server) consumeRate(c *gin.Context, scope string) {
	if _, errCheck := s.Limiter.Check(s.rateIdentifier(c), c.Request.Method, scope, s.rateWindow, s.Cfg.RateLimit, 1); errCheck != nil {
		log.Errorf("rate limit hit: %v", errCheck)
	}
}
