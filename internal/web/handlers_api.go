package web

import (
	"net/http"
	"strconv"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// apiAuth authenticates API requests with HTTP basic credentials. The
// password slot accepts either an access token secret or the account
// password; token-authenticated requests are bound to the token's
// scopes while password-authenticated ones carry full access.
func (s *Server) apiAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			s.apiUnauthorized(c)
			return
		}
		user, token, errToken := s.Store.AuthenticateToken(username, password)
		if errToken == nil {
			c.Set(ctxUser, user)
			c.Set(ctxToken, token)
			c.Next()
			return
		}
		user, errLogin := s.Auth.Login(c.Request.Context(), username, password)
		if errLogin != nil {
			log.Debugf("api auth failed for %s: %v", username, errLogin)
			s.apiUnauthorized(c)
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func (s *Server) apiUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="`+s.Cfg.HeaderName+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
}

// requireScope enforces token scopes; password-authenticated requests
// have no token and pass.
func (s *Server) requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ctxToken)
		if !exists {
			c.Next()
			return
		}
		token, _ := value.(*models.AccessToken)
		if token == nil || !token.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "insufficient scope"})
			return
		}
		c.Next()
	}
}

// requireAdminUser restricts the user-management API to admins.
func (s *Server) requireAdminUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
			return
		}
		c.Next()
	}
}

// userJSON shapes one user for API responses. Password hashes never
// leave the server.
func userJSON(user *models.User) gin.H {
	return gin.H{
		"userid":      user.ID,
		"username":    user.Username,
		"fullname":    user.Fullname,
		"email":       user.Email,
		"lang":        user.Lang,
		"role":        user.Role,
		"user_root":   user.UserRoot,
		"status":      user.Status,
		"mfa_enabled": user.MfaEnabled,
		"disk_quota":  user.DiskQuota,
	}
}

// apiCurrentUser returns the authenticated account and its
// repositories.
func (s *Server) apiCurrentUser(c *gin.Context) {
	user := currentUser(c)
	rows, errList := s.Store.ListRepos(user.ID)
	if errList != nil {
		s.abortError(c, errList, false)
		return
	}
	repos := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		repos = append(repos, gin.H{
			"name":     row.Repopath,
			"maxage":   row.MaxageDays,
			"keepdays": row.Keepdays,
			"status":   row.Status,
		})
	}
	payload := userJSON(user)
	payload["repos"] = repos
	c.JSON(http.StatusOK, payload)
}

type currentUserUpdate struct {
	Fullname *string `json:"fullname" form:"fullname"`
	Email    *string `json:"email" form:"email"`
	Lang     *string `json:"lang" form:"lang"`
}

// apiCurrentUserUpdate edits the caller's own profile fields.
func (s *Server) apiCurrentUserUpdate(c *gin.Context) {
	user := currentUser(c)
	var payload currentUserUpdate
	if errBind := c.ShouldBind(&payload); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": errBind.Error()})
		return
	}
	if payload.Fullname != nil {
		user.Fullname = *payload.Fullname
	}
	if payload.Email != nil {
		user.Email = *payload.Email
	}
	if payload.Lang != nil {
		user.Lang = *payload.Lang
	}
	if errUpdate := s.Store.UpdateUser(user, &user.ID); errUpdate != nil {
		s.abortError(c, errUpdate, true)
		return
	}
	c.JSON(http.StatusOK, userJSON(user))
}

// apiListUsers returns every account.
func (s *Server) apiListUsers(c *gin.Context) {
	users, errList := s.Store.ListUsers()
	if errList != nil {
		s.abortError(c, errList, false)
		return
	}
	listing := make([]gin.H, 0, len(users))
	for i := range users {
		listing = append(listing, userJSON(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": listing})
}

// lookupUser resolves a path ref that is either a numeric id or a
// username.
func (s *Server) lookupUser(ref string) (*models.User, error) {
	if id, errParse := strconv.ParseUint(ref, 10, 64); errParse == nil {
		return s.Store.GetUserByID(id)
	}
	return s.Store.GetUserByName(ref)
}

// apiGetUser returns one account by id or username.
func (s *Server) apiGetUser(c *gin.Context) {
	user, errGet := s.lookupUser(c.Param("ref"))
	if errGet != nil {
		s.abortError(c, errGet, false)
		return
	}
	c.JSON(http.StatusOK, userJSON(user))
}

type userPayload struct {
	Username   string  `json:"username" form:"username"`
	Password   string  `json:"password" form:"password"`
	Fullname   *string `json:"fullname" form:"fullname"`
	Email      *string `json:"email" form:"email"`
	Lang       *string `json:"lang" form:"lang"`
	Role       *int    `json:"role" form:"role"`
	UserRoot   *string `json:"user_root" form:"user_root"`
	MfaEnabled *bool   `json:"mfa_enabled" form:"mfa_enabled"`
	DiskQuota  *int64  `json:"disk_quota" form:"disk_quota"`
	Status     *string `json:"status" form:"status"`
}

func (p *userPayload) apply(user *models.User) {
	if p.Fullname != nil {
		user.Fullname = *p.Fullname
	}
	if p.Email != nil {
		user.Email = *p.Email
	}
	if p.Lang != nil {
		user.Lang = *p.Lang
	}
	if p.Role != nil {
		user.Role = *p.Role
	}
	if p.UserRoot != nil {
		user.UserRoot = *p.UserRoot
	}
	if p.MfaEnabled != nil {
		user.MfaEnabled = *p.MfaEnabled
	}
	if p.DiskQuota != nil {
		user.DiskQuota = *p.DiskQuota
	}
	if p.Status != nil {
		user.Status = *p.Status
	}
}

// apiCreateUser provisions a new account.
func (s *Server) apiCreateUser(c *gin.Context) {
	author := currentUser(c)
	var payload userPayload
	if errBind := c.ShouldBind(&payload); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": errBind.Error()})
		return
	}
	user := &models.User{Username: payload.Username, Role: models.RoleUser, Status: models.UserStatusActive}
	payload.apply(user)
	if payload.Password != "" {
		if errPolicy := s.Policy.Validate(payload.Password, user.Username, user.Email); errPolicy != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": errPolicy.Error()})
			return
		}
		hashed, errHash := security.HashPassword(payload.Password)
		if errHash != nil {
			s.abortError(c, errHash, true)
			return
		}
		user.HashPassword = hashed
	}
	if errCreate := s.Store.CreateUser(user, &author.ID); errCreate != nil {
		s.abortError(c, errCreate, true)
		return
	}
	c.JSON(http.StatusCreated, userJSON(user))
}

// apiUpdateUser edits an existing account.
func (s *Server) apiUpdateUser(c *gin.Context) {
	author := currentUser(c)
	user, errGet := s.lookupUser(c.Param("ref"))
	if errGet != nil {
		s.abortError(c, errGet, false)
		return
	}
	var payload userPayload
	if errBind := c.ShouldBind(&payload); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": errBind.Error()})
		return
	}
	payload.apply(user)
	if payload.Password != "" {
		hashed, errHash := security.HashPassword(payload.Password)
		if errHash != nil {
			s.abortError(c, errHash, true)
			return
		}
		user.HashPassword = hashed
	}
	if errUpdate := s.Store.UpdateUser(user, &author.ID); errUpdate != nil {
		s.abortError(c, errUpdate, true)
		return
	}
	c.JSON(http.StatusOK, userJSON(user))
}

// apiDeleteUser flags an account for deletion; the background job
// removes the rows later. Data on disk is never touched.
func (s *Server) apiDeleteUser(c *gin.Context) {
	author := currentUser(c)
	user, errGet := s.lookupUser(c.Param("ref"))
	if errGet != nil {
		s.abortError(c, errGet, false)
		return
	}
	if errFlag := s.Store.FlagUserDeleting(user.ID, &author.ID); errFlag != nil {
		s.abortError(c, errFlag, true)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deletion scheduled"})
}
