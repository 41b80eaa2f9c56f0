package scheduler

import (
	"context"

	"gorm.io/gorm"
)

// Buffer collects tasks during a database transaction. Tasks are handed
// to the scheduler only after the transaction commits; a rollback
// discards them. This keeps "delete X on disk" from racing against a
// still-uncommitted "delete X from database".
type Buffer struct {
	tasks []Task
}

// Add records one task for post-commit execution.
func (b *Buffer) Add(name string, run func(ctx context.Context) error) {
	b.tasks = append(b.tasks, Task{Name: name, Run: run})
}

// Transaction runs fn inside a gorm transaction with a task buffer. On
// commit the buffered tasks are enqueued in order; on rollback they are
// dropped.
func (s *Scheduler) Transaction(conn *gorm.DB, fn func(tx *gorm.DB, buffer *Buffer) error) error {
	buffer := &Buffer{}
	errTx := conn.Transaction(func(tx *gorm.DB) error {
		return fn(tx, buffer)
	})
	if errTx != nil {
		return errTx
	}
	for _, task := range buffer.tasks {
		s.Enqueue(task.Name, task.Run)
	}
	return nil
}
