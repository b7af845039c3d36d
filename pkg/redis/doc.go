// Package redis connects to Redis with retries and exposes a ping-based
// health check. The client backs keylock.Redis, the per-subscription lock
// shared by every billingd replica.
package redis
