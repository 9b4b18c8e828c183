package generic

import (
	"context"
	"errors"
)

// =============================================================================
// ATOMIC UNITS - A secondary record write paired with a wallet write
// =============================================================================
//
// Every money-moving operation writes a secondary record (investment,
// check-in, recharge, withdrawal) and then the wallet. Ordering inside a
// unit is always:
//
//   validate -> write secondary record -> write wallet
//
// On a TxStore both writes share one transaction. On a plain Store the
// caller registers an undo step after each secondary write (delete on
// insert, status revert on update); if the unit fails, the undo steps run
// in reverse order. A failed undo is joined to the original error.

// Compensator collects undo steps for a non-transactional unit.
type Compensator struct {
	steps []func(context.Context) error
	// inTx is set when a transaction will roll the writes back and the
	// registered steps must not run.
	inTx bool
}

// OnFailure registers an undo step. Steps run only if the unit fails and the
// store is not transactional.
func (c *Compensator) OnFailure(step func(ctx context.Context) error) {
	if c == nil || c.inTx {
		return
	}
	c.steps = append(c.steps, step)
}

func (c *Compensator) rollback(ctx context.Context) error {
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		if err := c.steps[i](context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunAtomic runs fn as one unit against s.
func RunAtomic(ctx context.Context, s Store, fn func(s Store, c *Compensator) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, func(tx Store) error {
			return fn(tx, &Compensator{inTx: true})
		})
	}

	c := &Compensator{}
	err := fn(s, c)
	if err == nil {
		return nil
	}
	if rbErr := c.rollback(ctx); rbErr != nil {
		return errors.Join(err, rbErr)
	}
	return err
}
