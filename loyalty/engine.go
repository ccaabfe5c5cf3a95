/*
engine.go - Engine assembly

PURPOSE:
  Wires the ledger, rank engine, rule engine, and voucher engine over
  one store and one shared account lock table. All four components must
  serialize per account through the same table; constructing them
  independently would break that guarantee.

SEE ALSO:
  - cmd/server/main.go: builds the Engine over the configured store
*/
package loyalty

import "context"

// Engine bundles the loyalty components over a single store.
type Engine struct {
	Ledger   *Ledger
	Ranks    *RankEngine
	Rules    *RuleEngine
	Vouchers *VoucherEngine

	store Store
}

// NewEngine wires the components and loads the administered content.
// Fails with NoMatchingRank when the stored rank set does not form
// contiguous bands from zero.
func NewEngine(ctx context.Context, store Store) (*Engine, error) {
	accounts := newLockTable()

	ranks := &RankEngine{store: store, accounts: accounts}
	ledger := &Ledger{store: store, accounts: accounts, ranks: ranks}
	rules := &RuleEngine{store: store, ledger: ledger, ranks: ranks}
	vouchers := &VoucherEngine{
		store:    store,
		ledger:   ledger,
		ranks:    ranks,
		vouchers: newLockTable(),
		accounts: accounts,
	}

	if err := ranks.Reload(ctx); err != nil {
		return nil, err
	}
	if err := rules.Reload(ctx); err != nil {
		return nil, err
	}

	return &Engine{
		Ledger:   ledger,
		Ranks:    ranks,
		Rules:    rules,
		Vouchers: vouchers,
		store:    store,
	}, nil
}

// Reload refreshes the cached rank and rule content from the store.
// Call after administering either set.
func (e *Engine) Reload(ctx context.Context) error {
	if err := e.Ranks.Reload(ctx); err != nil {
		return err
	}
	return e.Rules.Reload(ctx)
}

// Store exposes the underlying store for administration endpoints.
func (e *Engine) Store() Store {
	return e.store
}
