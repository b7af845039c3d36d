// Package keylock serializes work on a single key, typically a subscription ID.
//
// Memory is an in-process keyed mutex for single-replica deployments and
// tests. Redis holds the lock as a key set with SET NX PX and releases it with
// a token-checked script, so a holder whose TTL lapsed cannot delete a lock
// that now belongs to someone else.
//
//	unlock, err := locker.Lock(ctx, sub.ID)
//	if err != nil {
//		return err
//	}
//	defer unlock()
package keylock
