package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/backweb/backweb/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// prefsGeneral renders the profile settings.
func (s *Server) prefsGeneral(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"username":    user.Username,
		"fullname":    user.Fullname,
		"email":       user.Email,
		"lang":        user.Lang,
		"role":        user.Role,
		"mfa_enabled": user.MfaEnabled,
		"report_interval_days": user.ReportIntervalDays,
	})
}

// prefsGeneralSubmit updates the profile or changes the password,
// depending on the posted action.
func (s *Server) prefsGeneralSubmit(c *gin.Context) {
	user := currentUser(c)
	switch c.PostForm("action") {
	case "profile":
		user.Fullname = c.PostForm("fullname")
		user.Email = c.PostForm("email")
		user.Lang = c.PostForm("lang")
		if raw := c.PostForm("report_interval_days"); raw != "" {
			interval, errParse := strconv.Atoi(raw)
			if errParse != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": "invalid report interval"})
				return
			}
			user.ReportIntervalDays = interval
		}
		if errUpdate := s.Store.UpdateUser(user, &user.ID); errUpdate != nil {
			s.abortError(c, errUpdate, true)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
	case "password":
		s.changePassword(c)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"message": "unknown action"})
	}
}

// changePassword verifies the current credential, applies the password
// policy and invalidates every other session of the user.
func (s *Server) changePassword(c *gin.Context) {
	user := currentUser(c)
	if user.Username == s.Cfg.AdminUser && s.Cfg.AdminPassword != "" {
		// The seeded admin credential is managed in the configuration.
		c.JSON(http.StatusForbidden, gin.H{"message": "the admin password is managed by the server configuration"})
		return
	}
	current := c.PostForm("current")
	newPassword := c.PostForm("new")
	if !security.CheckPassword(user.HashPassword, current) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "current password is incorrect"})
		return
	}
	if errPolicy := s.Policy.ValidateChange(user.HashPassword, newPassword, user.Username, user.Email); errPolicy != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": errPolicy.Error()})
		return
	}
	hashed, errHash := security.HashPassword(newPassword)
	if errHash != nil {
		s.abortError(c, errHash, true)
		return
	}
	user.HashPassword = hashed
	if errUpdate := s.Store.UpdateUser(user, &user.ID); errUpdate != nil {
		s.abortError(c, errUpdate, true)
		return
	}
	removed, errDestroy := s.Sessions.DestroyOthers(currentSession(c))
	if errDestroy != nil {
		log.Errorf("destroy other sessions for %s: %v", user.Username, errDestroy)
	} else if removed > 0 {
		log.Infof("password change for %s closed %d other sessions", user.Username, removed)
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// prefsMfa renders the MFA toggle.
func (s *Server) prefsMfa(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, gin.H{"mfa_enabled": user.MfaEnabled, "email": user.Email})
}

// prefsMfaSubmit enables or disables email MFA. Enabling requires a
// contact address; the session then verifies a code on its next
// navigation.
func (s *Server) prefsMfaSubmit(c *gin.Context) {
	user := currentUser(c)
	switch c.PostForm("action") {
	case "enable":
		if user.Email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "an email address is required to enable MFA"})
			return
		}
		user.MfaEnabled = true
	case "disable":
		user.MfaEnabled = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{"message": "unknown action"})
		return
	}
	if errUpdate := s.Store.UpdateUser(user, &user.ID); errUpdate != nil {
		s.abortError(c, errUpdate, true)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mfa_enabled": user.MfaEnabled})
}

// prefsTokens lists the user's access tokens. Secrets are shown once at
// creation and never again.
func (s *Server) prefsTokens(c *gin.Context) {
	user := currentUser(c)
	tokens, errList := s.Store.ListAccessTokens(user.ID)
	if errList != nil {
		s.abortError(c, errList, false)
		return
	}
	listing := make([]gin.H, 0, len(tokens))
	for _, token := range tokens {
		entry := gin.H{
			"name":          token.Name,
			"scopes":        token.ScopeList(),
			"creation_time": token.CreationTime.Unix(),
		}
		if token.ExpirationTime != nil {
			entry["expiration_time"] = token.ExpirationTime.Unix()
		}
		if token.AccessTime != nil {
			entry["access_time"] = token.AccessTime.Unix()
		}
		listing = append(listing, entry)
	}
	c.JSON(http.StatusOK, gin.H{"tokens": listing})
}

// prefsTokensSubmit creates or revokes an access token.
func (s *Server) prefsTokensSubmit(c *gin.Context) {
	user := currentUser(c)
	switch c.PostForm("action") {
	case "add":
		var expiration *time.Time
		if raw := c.PostForm("expiration_days"); raw != "" {
			days, errParse := strconv.Atoi(raw)
			if errParse != nil || days < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"message": "invalid expiration"})
				return
			}
			when := time.Now().Add(time.Duration(days) * 24 * time.Hour)
			expiration = &when
		}
		secret, token, errCreate := s.Store.CreateAccessToken(user, c.PostForm("name"), c.PostFormArray("scopes"), expiration)
		if errCreate != nil {
			s.abortError(c, errCreate, true)
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": token.Name, "secret": secret})
	case "delete":
		if errDelete := s.Store.DeleteAccessToken(user.ID, c.PostForm("name")); errDelete != nil {
			s.abortError(c, errDelete, true)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "token revoked"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"message": "unknown action"})
	}
}

// prefsSshKeys lists the user's public keys.
func (s *Server) prefsSshKeys(c *gin.Context) {
	user := currentUser(c)
	keys, errList := s.Store.ListSshKeys(user.ID)
	if errList != nil {
		s.abortError(c, errList, false)
		return
	}
	listing := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		listing = append(listing, gin.H{
			"fingerprint": key.Fingerprint,
			"comment":     key.Comment,
		})
	}
	c.JSON(http.StatusOK, gin.H{"keys": listing})
}

// prefsSshKeysSubmit registers or removes a public key.
func (s *Server) prefsSshKeysSubmit(c *gin.Context) {
	user := currentUser(c)
	switch c.PostForm("action") {
	case "add":
		key, errAdd := s.Store.AddSshKey(user, c.PostForm("key"), c.PostForm("comment"))
		if errAdd != nil {
			s.abortError(c, errAdd, true)
			return
		}
		c.JSON(http.StatusOK, gin.H{"fingerprint": key.Fingerprint})
	case "delete":
		if errDelete := s.Store.DeleteSshKey(user.ID, c.PostForm("fingerprint")); errDelete != nil {
			s.abortError(c, errDelete, true)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "key removed"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"message": "unknown action"})
	}
}
