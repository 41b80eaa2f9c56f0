package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/rdiff"
	"github.com/backweb/backweb/internal/store"
	log "github.com/sirupsen/logrus"
)

// Mailer delivers one message; satisfied by the notify package.
type Mailer interface {
	Send(to, subject, body string) error
}

// CommandRunner executes an external command to completion. Tests swap
// it to avoid a real rdiff-backup dependency.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ExecRunner is the production CommandRunner.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = []string{"TMPDIR=" + os.TempDir()}
	output, errRun := cmd.CombinedOutput()
	if errRun != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), errRun, strings.TrimSpace(string(output)))
	}
	return nil
}

// Jobs bundles the built-in periodic tasks with their dependencies.
type Jobs struct {
	Store           *store.Store
	Mailer          Mailer
	Runner          CommandRunner
	RdiffBackupPath string
	// DeleteData removes repository bytes on disk when a repository row
	// is deleted.
	DeleteData bool
}

// Register wires the periodic tasks onto the scheduler.
func (j *Jobs) Register(s *Scheduler) error {
	entries := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		{"@hourly", "session-sweeper", j.SweepSessions},
		{"0 23 * * *", "token-cleanup", j.CleanupTokens},
		{"0 23 * * *", "retention", j.Retention},
		{"0 6 * * *", "notifications", j.SendReports},
		{"@every 4h", "repo-spider", j.SpiderRepos},
		{"@every 15m", "process-deletions", j.ProcessDeletions},
	}
	for _, entry := range entries {
		if errSchedule := s.Schedule(entry.spec, entry.name, entry.run); errSchedule != nil {
			return errSchedule
		}
	}
	return nil
}

// SweepSessions drops sessions past their hard expiry.
func (j *Jobs) SweepSessions(context.Context) error {
	removed, errSweep := j.Store.SweepSessions(time.Now())
	if errSweep != nil {
		return errSweep
	}
	if removed > 0 {
		log.Infof("swept %d expired sessions", removed)
	}
	return nil
}

// CleanupTokens drops access tokens past their expiration.
func (j *Jobs) CleanupTokens(context.Context) error {
	removed, errCleanup := j.Store.CleanupExpiredTokens(time.Now())
	if errCleanup != nil {
		return errCleanup
	}
	if removed > 0 {
		log.Infof("removed %d expired access tokens", removed)
	}
	return nil
}

// Retention trims old increments for every repository with a keepdays
// setting. The removal threshold is keepdays plus the age of the last
// backup, so a repository that stopped backing up keeps its full window.
func (j *Jobs) Retention(ctx context.Context) error {
	users, errUsers := j.Store.ListUsers()
	if errUsers != nil {
		return errUsers
	}
	for i := range users {
		user := &users[i]
		repos, errRepos := j.Store.ListRepos(user.ID)
		if errRepos != nil {
			log.WithError(errRepos).Errorf("retention: list repos for %s", user.Username)
			continue
		}
		for i := range repos {
			j.retainOne(ctx, user, &repos[i])
		}
	}
	return nil
}

func (j *Jobs) retainOne(ctx context.Context, user *models.User, repo *models.Repo) {
	if repo.Keepdays <= 0 {
		return
	}
	opened, errOpen := rdiff.Open(user.UserRoot, repo.Repopath)
	if errOpen != nil {
		log.WithError(errOpen).Warnf("retention: open %s/%s", user.Username, repo.Repopath)
		return
	}
	dates := opened.BackupDates()
	if len(dates) == 0 {
		return
	}
	last := dates[len(dates)-1]
	sinceDays := int(time.Since(time.Unix(last.Unix(), 0)).Hours() / 24)
	if sinceDays < 0 {
		sinceDays = 0
	}
	keep := repo.Keepdays + sinceDays
	// The binary is opaque here: only the exit code matters.
	errRun := j.Runner(ctx, j.RdiffBackupPath,
		"--force", fmt.Sprintf("--remove-older-than=%dD", keep), opened.Root)
	if errRun != nil {
		log.WithError(errRun).Errorf("retention: %s/%s", user.Username, repo.Repopath)
	}
}

// SendReports emails each user whose report interval elapsed a digest of
// repository freshness.
func (j *Jobs) SendReports(context.Context) error {
	if j.Mailer == nil {
		return nil
	}
	users, errUsers := j.Store.ListUsers()
	if errUsers != nil {
		return errUsers
	}
	now := time.Now()
	for i := range users {
		user := &users[i]
		if user.ReportIntervalDays <= 0 || user.Email == "" {
			continue
		}
		interval := time.Duration(user.ReportIntervalDays) * 24 * time.Hour
		if user.LastReportSent != nil && now.Sub(*user.LastReportSent) < interval {
			continue
		}
		body, errCompose := j.composeReport(user, now)
		if errCompose != nil {
			log.WithError(errCompose).Errorf("report for %s", user.Username)
			continue
		}
		if errSend := j.Mailer.Send(user.Email, "Backup status report", body); errSend != nil {
			log.WithError(errSend).Errorf("send report to %s", user.Username)
			continue
		}
		user.LastReportSent = &now
		if errSave := j.Store.UpdateUser(user, nil); errSave != nil {
			log.WithError(errSave).Errorf("record report time for %s", user.Username)
		}
	}
	return nil
}

// composeReport renders a plain-text freshness digest, one line per
// repository, flagging repositories whose last backup is older than
// their maxage unless today's weekday is ignored.
func (j *Jobs) composeReport(user *models.User, now time.Time) (string, error) {
	repos, errRepos := j.Store.ListRepos(user.ID)
	if errRepos != nil {
		return "", errRepos
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Backup report for %s\n\n", user.Username)
	for i := range repos {
		repo := &repos[i]
		line := j.reportLine(user, repo, now)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (j *Jobs) reportLine(user *models.User, repo *models.Repo, now time.Time) string {
	opened, errOpen := rdiff.Open(user.UserRoot, repo.Repopath)
	if errOpen != nil {
		return fmt.Sprintf("%s: unreadable (%v)", repo.Repopath, errOpen)
	}
	dates := opened.BackupDates()
	if len(dates) == 0 {
		return fmt.Sprintf("%s: no backup yet", repo.Repopath)
	}
	last := time.Unix(dates[len(dates)-1].Unix(), 0)
	ageDays := int(now.Sub(last).Hours() / 24)
	// Weekday bit 0 is Monday.
	weekdayBit := (int(now.Weekday()) + 6) % 7
	if repo.MaxageDays > 0 && ageDays > int(repo.MaxageDays) && !repo.WeekdayIgnored(weekdayBit) {
		return fmt.Sprintf("%s: STALE, last backup %s (%d days old, limit %d)",
			repo.Repopath, last.Format("2006-01-02"), ageDays, repo.MaxageDays)
	}
	return fmt.Sprintf("%s: ok, last backup %s", repo.Repopath, last.Format("2006-01-02"))
}

// SpiderRepos re-discovers repositories for every user.
func (j *Jobs) SpiderRepos(context.Context) error {
	users, errUsers := j.Store.ListUsers()
	if errUsers != nil {
		return errUsers
	}
	for i := range users {
		user := &users[i]
		if errRefresh := j.Store.RefreshRepos(user, false); errRefresh != nil {
			log.WithError(errRefresh).Errorf("spider: refresh repos for %s", user.Username)
		}
	}
	return nil
}

// ProcessDeletions completes asynchronous removal of flagged users and
// repositories. Safe to re-run; partially deleted state converges.
func (j *Jobs) ProcessDeletions(context.Context) error {
	var repos []models.Repo
	if errFind := j.Store.DB.Where("status = ?", models.RepoStatusDeleting).Find(&repos).Error; errFind != nil {
		return errFind
	}
	for i := range repos {
		repo := &repos[i]
		if j.DeleteData {
			owner, errOwner := j.Store.GetUserByID(repo.UserID)
			if errOwner == nil {
				target := filepath.Join(owner.UserRoot, filepath.FromSlash(repo.Repopath))
				if errRemove := os.RemoveAll(target); errRemove != nil {
					log.WithError(errRemove).Errorf("delete repo bytes %s", target)
					continue
				}
			}
		}
		if errDelete := j.Store.DeleteRepo(repo.ID); errDelete != nil {
			log.WithError(errDelete).Errorf("delete repo row %d", repo.ID)
		}
	}

	var users []models.User
	if errFind := j.Store.DB.Where("status = ?", models.UserStatusDeleting).Find(&users).Error; errFind != nil {
		return errFind
	}
	for i := range users {
		if errDelete := j.Store.DeleteUser(users[i].ID); errDelete != nil {
			log.WithError(errDelete).Errorf("delete user %s", users[i].Username)
		}
	}
	return nil
}
