package session

import (
	"fmt"
	"time"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/notify"
	"github.com/backweb/backweb/internal/security"
	log "github.com/sirupsen/logrus"
)

// MFA states per session.
type MfaState int

const (
	// MfaNone means MFA is not required for this user.
	MfaNone MfaState = iota
	// MfaPending means a code was (or must be) sent and not yet verified.
	MfaPending
	// MfaVerified means a code was accepted within the window from a
	// known remote IP.
	MfaVerified
)

// maxMfaAttempts invalid codes regenerate the code and reset the count.
const maxMfaAttempts = 3

// ErrResendThrottled limits code resends to one per code lifetime.
var ErrResendThrottled = fmt.Errorf("session: verification code already sent")

// MfaStateFor evaluates the state machine for the current request. A
// VERIFIED session reverts to PENDING when the window elapsed or the
// remote IP is new; the caller then sends a fresh code.
func (m *Manager) MfaStateFor(s *Session, user *models.User, remoteIP string) MfaState {
	if user == nil || !user.MfaEnabled {
		return MfaNone
	}
	verifiedAt := s.GetTime(models.SessionKeyMfaVerifiedTime)
	if verifiedAt.IsZero() {
		return MfaPending
	}
	if m.now().Sub(verifiedAt) > m.MfaWindow {
		return MfaPending
	}
	for _, known := range s.GetStrings(models.SessionKeyMfaVerifiedIPList) {
		if known == remoteIP {
			return MfaVerified
		}
	}
	return MfaPending
}

// SendMfaCode generates and emails a fresh verification code, storing
// only its hash. Unless force is set, at most one code is sent per code
// lifetime.
func (m *Manager) SendMfaCode(s *Session, user *models.User, force bool) error {
	if user.Email == "" {
		return fmt.Errorf("session: user %s has no email for verification codes", user.Username)
	}
	lastSent := s.GetTime(models.SessionKeyMfaCodeTime)
	if !force && !lastSent.IsZero() && m.now().Sub(lastSent) < m.MfaCodeTTL {
		return ErrResendThrottled
	}
	code, errCode := security.GenerateVerificationCode(6)
	if errCode != nil {
		return errCode
	}
	s.Set(models.SessionKeyMfaCode, security.HashTokenSecret(code))
	s.SetTime(models.SessionKeyMfaCodeTime, m.now())
	s.Set(models.SessionKeyMfaAttempts, 0)
	if errSave := m.Save(s); errSave != nil {
		return errSave
	}
	subject, body := notify.VerificationCodeBody(code, int(m.MfaCodeTTL/time.Minute))
	if errSend := m.Mailer.Send(user.Email, subject, body); errSend != nil {
		return errSend
	}
	log.Infof("sent verification code to %s", user.Username)
	return nil
}

// VerifyMfaCode checks a submitted code. Success moves the session to
// VERIFIED, rotates the id and binds the window to the remote IP. Three
// invalid attempts regenerate the code.
func (m *Manager) VerifyMfaCode(s *Session, user *models.User, code, remoteIP string) (bool, error) {
	storedHash := s.GetString(models.SessionKeyMfaCode)
	sentAt := s.GetTime(models.SessionKeyMfaCodeTime)
	expired := storedHash == "" || sentAt.IsZero() || m.now().Sub(sentAt) > m.MfaCodeTTL

	if !expired && security.VerifyTokenSecret(storedHash, code) {
		m.clearMfa(s)
		s.SetTime(models.SessionKeyMfaVerifiedTime, m.now())
		s.Set(models.SessionKeyMfaVerifiedIPList, []string{remoteIP})
		return true, m.Rotate(s)
	}

	attempts := s.GetInt(models.SessionKeyMfaAttempts) + 1
	s.Set(models.SessionKeyMfaAttempts, attempts)
	if expired || attempts >= maxMfaAttempts {
		// A fresh code resets the attempt counter.
		if errSend := m.SendMfaCode(s, user, true); errSend != nil {
			return false, errSend
		}
		return false, nil
	}
	return false, m.Save(s)
}

// clearMfa drops the pending-code state, keeping any verified window.
func (m *Manager) clearMfa(s *Session) {
	s.Delete(models.SessionKeyMfaCode)
	s.Delete(models.SessionKeyMfaCodeTime)
	s.Delete(models.SessionKeyMfaAttempts)
}
