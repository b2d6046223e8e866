package redisadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockKey identifies one distributed lock attempt, grounded directly on the
// teacher's redis/locker.go sop.LockKey: a namespaced key plus an owner id
// used to tell "we hold this lock" apart from "someone else does".
type LockKey struct {
	Key         string
	OwnerID     string
	isLockOwner bool
}

// NewLockKeys builds a LockKey per name, prefixing each with "L" the way
// the teacher's FormatLockKey does, to keep lock keys visually distinct
// from data keys in the same keyspace.
func NewLockKeys(names ...string) []*LockKey {
	keys := make([]*LockKey, len(names))
	for i, n := range names {
		keys[i] = &LockKey{Key: fmt.Sprintf("L%s", n), OwnerID: uuid.NewString()}
	}
	return keys
}

// Lock acquires every key in lockKeys using SET NX plus a second GET to
// confirm ownership, exactly as the teacher's Lock does: a non-blocking,
// all-or-nothing attempt used to coordinate a participating transaction's
// DoSetRollbackOnly mark across independent processes sharing the same
// Redis resource.
func (a *Adapter) Lock(ctx context.Context, ttl time.Duration, lockKeys ...*LockKey) (bool, error) {
	for i, lk := range lockKeys {
		ok, err := a.client.SetNX(ctx, lk.Key, lk.OwnerID, ttl).Result()
		if err != nil {
			_ = a.Unlock(ctx, lockKeys[:i]...)
			return false, err
		}
		if ok {
			lk.isLockOwner = true
			continue
		}
		owner, err := a.client.Get(ctx, lk.Key).Result()
		if err != nil && err != redis.Nil {
			_ = a.Unlock(ctx, lockKeys[:i]...)
			return false, err
		}
		if owner != lk.OwnerID {
			_ = a.Unlock(ctx, lockKeys[:i]...)
			return false, nil
		}
	}
	return true, nil
}

// Unlock releases every key this Adapter instance is the recorded owner
// of, mirroring the teacher's Unlock (only the owner's delete succeeds;
// everyone else's is a silent no-op).
func (a *Adapter) Unlock(ctx context.Context, lockKeys ...*LockKey) error {
	var lastErr error
	for _, lk := range lockKeys {
		if !lk.isLockOwner {
			continue
		}
		if err := a.client.Del(ctx, lk.Key).Err(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
