package jwtauth

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDSource produces jti values. Returning "" omits the claim.
type IDSource interface {
	NextID(ctx context.Context) (string, error)
}

// IDSourceFunc adapts a function to IDSource.
type IDSourceFunc func(ctx context.Context) (string, error)

// NextID calls f.
func (f IDSourceFunc) NextID(ctx context.Context) (string, error) { return f(ctx) }

// Counter is a process-local jti sequence. Access counters count up from 1,
// refresh counters count down from -1, so the two never overlap inside one
// process. A new process starts both again, so ids repeat across restarts.
type Counter struct {
	value atomic.Int64
	step  int64
}

// NewAccessCounter returns a counter yielding 1, 2, 3, ...
func NewAccessCounter() *Counter { return &Counter{step: 1} }

// NewRefreshCounter returns a counter yielding -1, -2, -3, ...
func NewRefreshCounter() *Counter { return &Counter{step: -1} }

// NextID implements IDSource.
func (c *Counter) NextID(context.Context) (string, error) {
	return strconv.FormatInt(c.value.Add(c.step), 10), nil
}

// LastID returns the most recently issued value, or 0 before the first call.
func (c *Counter) LastID() int64 { return c.value.Load() }

// UUIDSource yields time-ordered UUIDv7 ids, unique across processes.
type UUIDSource struct{}

// NextID implements IDSource.
func (UUIDSource) NextID(context.Context) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
