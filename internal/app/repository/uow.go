package repository

import (
	"context"

	"gorm.io/gorm"
)

type txContextKey struct{}

// txState carries the transactional gorm handle plus the callbacks queued to
// run once the transaction commits.
type txState struct {
	tx    *gorm.DB
	hooks []func()
}

// TxManager runs units of work against the database. Cache updates that must
// stay consistent with durable writes are registered through AfterCommit and
// only run once the enclosing transaction has committed.
type TxManager struct {
	db *gorm.DB
}

// NewTxManager returns a TxManager bound to db.
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// TxRunner is the unit-of-work contract consumed by services. TxManager is
// the production implementation; tests substitute fakes built around
// NewHookContext.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Do executes fn inside a transaction. Repositories called with the context
// given to fn operate on the transactional handle. After a successful commit
// every hook registered via AfterCommit runs, in registration order. On
// rollback the hooks are discarded.
func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var state *txState
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hookCtx, st := newHookContext(ctx)
		st.tx = tx
		state = st
		return fn(hookCtx)
	})
	if err != nil {
		return err
	}
	state.flush()
	return nil
}

// NewHookContext returns a derived context that queues AfterCommit callbacks
// and a flush function that runs them in registration order. TxManager uses
// it around every transaction; alternative TxRunner implementations call
// flush only when their unit of work commits.
func NewHookContext(ctx context.Context) (context.Context, func()) {
	hookCtx, state := newHookContext(ctx)
	return hookCtx, state.flush
}

func newHookContext(ctx context.Context) (context.Context, *txState) {
	state := &txState{}
	return context.WithValue(ctx, txContextKey{}, state), state
}

func (s *txState) flush() {
	for _, hook := range s.hooks {
		hook()
	}
	s.hooks = nil
}

// AfterCommit schedules fn to run after the unit of work active in ctx
// commits. Outside a unit of work fn runs immediately. fn must handle its
// own failures; nothing it does can fail the durable write, which has
// already succeeded by the time it runs.
func AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txContextKey{}).(*txState); ok {
		state.hooks = append(state.hooks, fn)
		return
	}
	fn()
}

// dbFrom resolves the gorm handle for ctx: the transactional handle when a
// unit of work is active, the base connection otherwise.
func dbFrom(ctx context.Context, base *gorm.DB) *gorm.DB {
	if state, ok := ctx.Value(txContextKey{}).(*txState); ok && state.tx != nil {
		return state.tx
	}
	return base
}
