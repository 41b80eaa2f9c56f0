package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded from a YAML file
// with environment overrides applied on top.
type Config struct {
	// ServerHost is the listen address.
	ServerHost string `yaml:"server-host"`
	// ServerPort is the listen port.
	ServerPort int `yaml:"server-port"`
	// ExternalURL is the public base URL used in emails and the feed.
	ExternalURL string `yaml:"external-url"`

	// DatabaseURI selects sqlite or postgres from its DSN shape.
	DatabaseURI string `yaml:"database-uri"`

	// TempDir overrides the restore scratch location. Empty uses the OS
	// default.
	TempDir string `yaml:"tempdir"`
	// RdiffBackupPath names the external binary.
	RdiffBackupPath string `yaml:"rdiff-backup-path"`
	// RestoreTimeoutMinutes caps one restore subprocess.
	RestoreTimeoutMinutes int `yaml:"restore-timeout-minutes"`
	// DisableDataDeletion keeps repository bytes on disk when a
	// repository or path is deleted; only the database rows go away.
	DisableDataDeletion bool `yaml:"disable-data-deletion"`

	// AdminUser cannot be deleted or disabled.
	AdminUser string `yaml:"admin-user"`
	// AdminPassword seeds the initial admin credential. When set, the
	// admin password cannot be changed through the UI.
	AdminPassword string `yaml:"admin-password"`

	SessionIdleTimeoutMinutes       int    `yaml:"session-idle-timeout"`
	SessionPersistentTimeoutMinutes int    `yaml:"session-persistent-timeout"`
	SessionAbsoluteTimeoutMinutes   int    `yaml:"session-absolute-timeout"`
	SessionCookieName               string `yaml:"session-cookie-name"`

	PasswordMinLength int `yaml:"password-min-length"`
	PasswordMaxLength int `yaml:"password-max-length"`
	PasswordScore     int `yaml:"password-score"`

	// RateLimit is the number of attempts per hour on guarded routes.
	RateLimit int `yaml:"rate-limit"`
	// RateLimitDir switches to the file-backed store when set.
	RateLimitDir string `yaml:"rate-limit-dir"`
	// RateLimitRedisURI switches to the Redis store when set.
	RateLimitRedisURI string `yaml:"rate-limit-redis-uri"`

	LdapURI               string `yaml:"ldap-uri"`
	LdapBaseDN            string `yaml:"ldap-base-dn"`
	LdapBindDN            string `yaml:"ldap-bind-dn"`
	LdapBindPassword      string `yaml:"ldap-bind-password"`
	LdapUsernameAttribute string `yaml:"ldap-username-attribute"`
	LdapEmailAttribute    string `yaml:"ldap-email-attribute"`
	LdapFullnameAttribute string `yaml:"ldap-fullname-attribute"`

	OauthClientID      string `yaml:"oauth-client-id"`
	OauthClientSecret  string `yaml:"oauth-client-secret"`
	OauthAuthURL       string `yaml:"oauth-auth-url"`
	OauthTokenURL      string `yaml:"oauth-token-url"`
	OauthRedirectURL   string `yaml:"oauth-redirect-url"`
	OauthUserkeyClaim  string `yaml:"oauth-userkey-claim"`
	OauthFullnameClaim string `yaml:"oauth-fullname-claim"`

	// AddMissingUser provisions unknown users on successful external
	// authentication.
	AddMissingUser         bool   `yaml:"add-missing-user"`
	AddUserDefaultRole     string `yaml:"add-user-default-role"`
	AddUserDefaultUserRoot string `yaml:"add-user-default-userroot"`

	// MaxDepth bounds the repository discovery walk.
	MaxDepth int `yaml:"max-depth"`
	// LoginWithEmail allows the email address as the login identifier.
	LoginWithEmail bool `yaml:"login-with-email"`

	MfaCodeTimeoutMinutes  int `yaml:"mfa-code-timeout"`
	MfaVerifiedTimeoutDays int `yaml:"mfa-verified-timeout"`

	SMTPServer         string `yaml:"email-host"`
	SMTPPort           int    `yaml:"email-port"`
	SMTPUsername       string `yaml:"email-username"`
	SMTPPassword       string `yaml:"email-password"`
	SMTPSender         string `yaml:"email-sender"`
	SMTPEncryptionMode string `yaml:"email-encryption"`

	HeaderName   string `yaml:"header-name"`
	HeaderLogo   string `yaml:"header-logo"`
	DefaultTheme string `yaml:"default-theme"`
	WelcomeMsg   string `yaml:"welcome-msg"`

	LogLevel string `yaml:"log-level"`
	LogFile  string `yaml:"log-file"`
}

// Default returns a Config populated with documented defaults.
func Default() Config {
	return Config{
		ServerHost:                      "127.0.0.1",
		ServerPort:                      8080,
		DatabaseURI:                     "/etc/backweb/rdw.db",
		RdiffBackupPath:                 "rdiff-backup",
		RestoreTimeoutMinutes:           50,
		AdminUser:                       "admin",
		SessionIdleTimeoutMinutes:       60,
		SessionPersistentTimeoutMinutes: 10080,
		SessionAbsoluteTimeoutMinutes:   43200,
		SessionCookieName:               "session_id",
		PasswordMinLength:               8,
		PasswordMaxLength:               128,
		PasswordScore:                   0,
		RateLimit:                       25,
		LdapUsernameAttribute:           "uid",
		LdapEmailAttribute:              "mail",
		LdapFullnameAttribute:           "cn",
		OauthUserkeyClaim:               "sub",
		OauthFullnameClaim:              "name",
		AddUserDefaultRole:              "user",
		MaxDepth:                        5,
		MfaCodeTimeoutMinutes:           10,
		MfaVerifiedTimeoutDays:          30,
		SMTPPort:                        25,
		HeaderName:                      "Backweb",
		DefaultTheme:                    "default",
		LogLevel:                        "info",
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error; environment-only
// deployments are supported.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, errRead := os.ReadFile(path)
		if errRead != nil && !os.IsNotExist(errRead) {
			return cfg, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errRead == nil {
			if errDecode := yaml.Unmarshal(raw, &cfg); errDecode != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, errDecode)
			}
		}
	}
	cfg.applyEnv()
	if errValidate := cfg.Validate(); errValidate != nil {
		return cfg, errValidate
	}
	return cfg, nil
}

// applyEnv overrides select keys from BACKWEB_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("BACKWEB_DATABASE_URI"); v != "" {
		c.DatabaseURI = v
	}
	if v := os.Getenv("BACKWEB_ADMIN_USER"); v != "" {
		c.AdminUser = v
	}
	if v := os.Getenv("BACKWEB_ADMIN_PASSWORD"); v != "" {
		c.AdminPassword = v
	}
	if v := os.Getenv("BACKWEB_EXTERNAL_URL"); v != "" {
		c.ExternalURL = v
	}
	if v := os.Getenv("BACKWEB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TMPDIR"); v != "" && c.TempDir == "" {
		c.TempDir = v
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("config: invalid server-port %d", c.ServerPort)
	}
	if strings.TrimSpace(c.DatabaseURI) == "" {
		return fmt.Errorf("config: database-uri is required")
	}
	if c.PasswordMinLength < 1 || c.PasswordMaxLength < c.PasswordMinLength {
		return fmt.Errorf("config: invalid password length bounds [%d, %d]", c.PasswordMinLength, c.PasswordMaxLength)
	}
	if c.PasswordScore < 0 || c.PasswordScore > 4 {
		return fmt.Errorf("config: password-score must be 0-4, got %d", c.PasswordScore)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("config: max-depth must be at least 1")
	}
	if c.RestoreTimeoutMinutes < 1 {
		return fmt.Errorf("config: restore-timeout-minutes must be at least 1")
	}
	return nil
}

// IdleTimeout returns the idle session bound as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutMinutes) * time.Minute
}

// PersistentTimeout returns the persistent session bound as a duration.
func (c *Config) PersistentTimeout() time.Duration {
	return time.Duration(c.SessionPersistentTimeoutMinutes) * time.Minute
}

// AbsoluteTimeout returns the absolute session bound as a duration.
func (c *Config) AbsoluteTimeout() time.Duration {
	return time.Duration(c.SessionAbsoluteTimeoutMinutes) * time.Minute
}

// MfaCodeTimeout returns the verification code lifetime.
func (c *Config) MfaCodeTimeout() time.Duration {
	return time.Duration(c.MfaCodeTimeoutMinutes) * time.Minute
}

// MfaVerifiedTimeout returns the verified-window duration.
func (c *Config) MfaVerifiedTimeout() time.Duration {
	return time.Duration(c.MfaVerifiedTimeoutDays) * 24 * time.Hour
}

// RestoreTimeout returns the restore subprocess cap.
func (c *Config) RestoreTimeout() time.Duration {
	return time.Duration(c.RestoreTimeoutMinutes) * time.Minute
}
