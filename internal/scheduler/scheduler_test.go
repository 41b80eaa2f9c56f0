package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/backweb/backweb/internal/db"
	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/store"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open database: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return store.New(conn, "admin", false, 3)
}

func TestEnqueueRunsTasks(t *testing.T) {
	s := New(2)
	s.Start()
	defer s.Stop()

	var counter int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		s.Enqueue("count", func(context.Context) error {
			atomic.AddInt32(&counter, 1)
			wg.Done()
			return nil
		})
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not run")
	}
	if got := atomic.LoadInt32(&counter); got != 20 {
		t.Fatalf("expected 20 runs, got %d", got)
	}
}

func TestFailingAndPanickingTasksDoNotBlockQueue(t *testing.T) {
	s := New(1)
	s.Start()
	defer s.Stop()

	ran := make(chan struct{})
	s.Enqueue("fails", func(context.Context) error { return errors.New("boom") })
	s.Enqueue("panics", func(context.Context) error { panic("boom") })
	s.Enqueue("runs", func(context.Context) error { close(ran); return nil })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("a failing task blocked the queue")
	}
}

func TestEnqueueAfterStopIsDropped(t *testing.T) {
	s := New(1)
	s.Start()
	s.Stop()
	// Must not panic on the closed channel.
	s.Enqueue("late", func(context.Context) error { return nil })
}

func TestTransactionCommitCoupling(t *testing.T) {
	st := newTestStore(t)
	s := New(1)
	s.Start()
	defer s.Stop()

	ran := make(chan struct{})
	errTx := s.Transaction(st.DB, func(tx *gorm.DB, buffer *Buffer) error {
		if errCreate := tx.Create(&models.User{Username: "joe", Status: models.UserStatusActive}).Error; errCreate != nil {
			return errCreate
		}
		buffer.Add("after-commit", func(context.Context) error {
			close(ran)
			return nil
		})
		return nil
	})
	if errTx != nil {
		t.Fatalf("transaction: %v", errTx)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("buffered task must run after commit")
	}
	if _, errFind := st.GetUserByName("joe"); errFind != nil {
		t.Fatalf("committed row missing: %v", errFind)
	}
}

func TestTransactionRollbackDiscardsTasks(t *testing.T) {
	st := newTestStore(t)
	s := New(1)
	s.Start()
	defer s.Stop()

	var fired int32
	errTx := s.Transaction(st.DB, func(tx *gorm.DB, buffer *Buffer) error {
		if errCreate := tx.Create(&models.User{Username: "joe", Status: models.UserStatusActive}).Error; errCreate != nil {
			return errCreate
		}
		buffer.Add("never", func(context.Context) error {
			atomic.AddInt32(&fired, 1)
			return nil
		})
		return errors.New("force rollback")
	})
	if errTx == nil {
		t.Fatal("expected the transaction error to propagate")
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("rolled-back task must not run")
	}
	if _, errFind := st.GetUserByName("joe"); errFind == nil {
		t.Fatal("rolled-back row must not exist")
	}
}

func TestRetentionCommand(t *testing.T) {
	st := newTestStore(t)
	user := &models.User{Username: "joe", UserRoot: t.TempDir()}
	if errCreate := st.CreateUser(user, nil); errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	var commands [][]string
	jobs := &Jobs{
		Store:           st,
		RdiffBackupPath: "rdiff-backup",
		Runner: func(_ context.Context, name string, args ...string) error {
			commands = append(commands, append([]string{name}, args...))
			return nil
		},
	}

	// No repos, no commands.
	if errRun := jobs.Retention(context.Background()); errRun != nil {
		t.Fatalf("retention: %v", errRun)
	}
	if len(commands) != 0 {
		t.Fatalf("expected no commands, got %v", commands)
	}
}
