// Package fulfillment enforces the order status lifecycle:
//
//	pending -> shipped -> out-for-delivery -> delivered
//
// Forward moves are always allowed. A move back is allowed one step at a time
// and only within RevertWindow of the last status change. Cancellation is a
// side exit from any non-terminal status, and a refund is an annotation that
// never changes the status.
package fulfillment

import (
	"fmt"
	"time"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
)

const DefaultRevertWindow = 5 * time.Minute

type Machine struct {
	revertWindow time.Duration
	now          func() time.Time
}

type Option func(*Machine)

func WithRevertWindow(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.revertWindow = d
		}
	}
}

// WithClock replaces the wall clock. The clock must be server-side; client
// supplied timestamps are never used for the revert window.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		revertWindow: DefaultRevertWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) RevertWindow() time.Duration {
	return m.revertWindow
}

// Transition moves the order along the fulfillment path. On success status,
// UpdatedAt and StatusChangedAt are set; on failure the order is unchanged.
func (m *Machine) Transition(o *domain.Order, to domain.OrderStatus) error {
	if !to.Valid() {
		return domain.NewError(domain.ErrInvalidTransition, o.ID, fmt.Sprintf("unknown status %q", to))
	}
	if o.Status.Terminal() {
		return domain.NewError(domain.ErrInvalidTransition, o.ID, fmt.Sprintf("order is %s and can no longer change status", o.Status))
	}
	if to == domain.OrderStatusCancelled {
		return domain.NewError(domain.ErrInvalidTransition, o.ID, "cancellation requires a reason, use cancel")
	}

	cur, _ := o.Status.Rank()
	next, _ := to.Rank()

	switch {
	case next == cur:
		return domain.NewError(domain.ErrInvalidTransition, o.ID, fmt.Sprintf("order is already %s", o.Status))
	case next < cur:
		if err := m.checkRevert(o, cur-next); err != nil {
			return err
		}
	}

	m.setStatus(o, to)
	return nil
}

// CanRevert reports whether o may still be moved one step back.
func (m *Machine) CanRevert(o *domain.Order) bool {
	if o.Status.Terminal() || o.Status == domain.OrderStatusPending {
		return false
	}
	return m.checkRevert(o, 1) == nil
}

func (m *Machine) checkRevert(o *domain.Order, steps int) error {
	elapsed := m.now().Sub(o.LastTransitionAt())
	if elapsed > m.revertWindow {
		return domain.NewError(domain.ErrRevertWindowExpired, o.ID, fmt.Sprintf(
			"status can only be reverted within %s of the last change (last change %s ago)",
			m.revertWindow, elapsed.Truncate(time.Second)))
	}
	if steps > 1 {
		return domain.NewError(domain.ErrRevertTooFarBack, o.ID, fmt.Sprintf(
			"status can only be reverted one step at a time (requested %d steps back)", steps))
	}
	return nil
}

func (m *Machine) setStatus(o *domain.Order, to domain.OrderStatus) {
	now := m.now()
	o.Status = to
	o.UpdatedAt = now
	o.StatusChangedAt = now
}
