package vsb

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// AccessReason classifies which limiter an operation draws from.
type AccessReason int

const (
	AccessRead AccessReason = iota
	AccessWrite
)

// RateLimits caps reads and writes process-wide. A nil limiter means
// unlimited.
type RateLimits struct {
	Read  *rate.Limiter
	Write *rate.Limiter
}

func (l RateLimits) limiter(reason AccessReason) *rate.Limiter {
	if reason == AccessWrite {
		return l.Write
	}
	return l.Read
}

// Ticket is a bounded credit reserved from a limiter. The reservation is
// taken eagerly; Finish waits it out, Cancel returns it unused. The
// ticket's context carries the deadline that bounds shard waits.
type Ticket struct {
	ctx context.Context
	res *rate.Reservation
}

// NewTicket reserves a credit for the given access reason.
func NewTicket(ctx context.Context, limits RateLimits, reason AccessReason) Ticket {
	lim := limits.limiter(reason)
	if lim == nil {
		return Ticket{ctx: ctx}
	}
	return Ticket{ctx: ctx, res: lim.Reserve()}
}

// Finish waits until the reserved credit becomes usable, honoring the
// ticket's deadline.
func (t Ticket) Finish() error {
	if t.res == nil {
		return t.ctx.Err()
	}
	delay := t.res.Delay()
	if delay == 0 {
		return t.ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.ctx.Done():
		t.res.Cancel()
		return fmt.Errorf("rate limit wait: %w", t.ctx.Err())
	}
}

// Cancel returns the unused credit to the limiter.
func (t Ticket) Cancel() {
	if t.res != nil {
		t.res.Cancel()
	}
}
