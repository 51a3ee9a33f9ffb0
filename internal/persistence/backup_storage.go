package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// pendingWriteQueue is the Redis list backing the Backup Storage queue,
// mirroring the teacher's storage.pendingTxQueue naming convention.
const pendingWriteQueue = "queue:pending_remote_writes"

// PendingWriteKind enumerates the remote-DB write kinds the Backup Storage
// queues when the remote database rejects a synchronous write (spec §4.G).
type PendingWriteKind string

const (
	NoteAdded      PendingWriteKind = "note_added"
	NoteDeleted    PendingWriteKind = "note_deleted"
	PositionAdded  PendingWriteKind = "position_added"
)

// PendingWrite is one queued remote-DB write.
type PendingWrite struct {
	Kind      PendingWriteKind `json:"kind"`
	Index     uint64           `json:"index"`
	Hash      string           `json:"hash,omitempty"`
	QueuedAt  int64            `json:"queued_at"`
}

// BackupStorage queues remote-DB writes the real backend (Firestore in the
// original system; out of scope per spec §1) could not accept, draining
// them with a background task once the remote store recovers.
type BackupStorage struct {
	client *redis.Client
	ctx    context.Context
}

// NewBackupStorage connects to the Redis instance standing in for the
// remote-DB write queue.
func NewBackupStorage(redisAddr string) (*BackupStorage, error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr, DB: 0})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to connect to backup storage", err)
	}
	return &BackupStorage{client: client, ctx: ctx}, nil
}

// Close closes the underlying Redis connection.
func (b *BackupStorage) Close() error {
	return b.client.Close()
}

// Enqueue pushes a pending write onto the queue for later draining.
func (b *BackupStorage) Enqueue(w PendingWrite) error {
	w.QueuedAt = time.Now().Unix()
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("persistence: failed to marshal pending write: %w", err)
	}
	if err := b.client.RPush(b.ctx, pendingWriteQueue, data).Err(); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to enqueue pending write", err)
	}
	return nil
}

// Drain pops up to max pending writes and hands each to apply. A write that
// apply rejects is re-queued at the tail for a later drain pass.
func (b *BackupStorage) Drain(ctx context.Context, max int, apply func(PendingWrite) error) (drained int, err error) {
	for i := 0; i < max; i++ {
		raw, err := b.client.LPop(ctx, pendingWriteQueue).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return drained, domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to pop pending write", err)
		}

		var w PendingWrite
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			continue
		}

		if err := apply(w); err != nil {
			b.client.RPush(ctx, pendingWriteQueue, raw)
			continue
		}
		drained++
	}
	return drained, nil
}

// StartDrainLoop runs Drain on a fixed interval until ctx is cancelled,
// mirroring the teacher's background-task pattern in
// internal/processor.TransactionProcessor.
func (b *BackupStorage) StartDrainLoop(ctx context.Context, interval time.Duration, apply func(PendingWrite) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Drain(ctx, 100, apply)
		}
	}
}
