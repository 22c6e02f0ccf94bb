package session

import (
	"context"
	"sync"

	"github.com/tyemirov/stockpilot/internal/model"
)

// Revalidation is the background identity check started by RestoreSession.
type Revalidation struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	user   *model.User
	err    error
}

func newRevalidation(cancel context.CancelFunc) *Revalidation {
	return &Revalidation{done: make(chan struct{}), cancel: cancel}
}

// Done is closed once the revalidation has finished.
func (revalidation *Revalidation) Done() <-chan struct{} {
	return revalidation.done
}

// Cancel stops the revalidation. It is safe on a nil or finished revalidation.
func (revalidation *Revalidation) Cancel() {
	if revalidation == nil {
		return
	}
	revalidation.cancel()
}

// Wait blocks until the revalidation finishes or ctx ends.
func (revalidation *Revalidation) Wait(ctx context.Context) (*model.User, error) {
	select {
	case <-revalidation.done:
		return copyUser(revalidation.user), revalidation.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (revalidation *Revalidation) settle(user *model.User, err error) {
	revalidation.once.Do(func() {
		revalidation.user = copyUser(user)
		revalidation.err = err
		close(revalidation.done)
	})
}
