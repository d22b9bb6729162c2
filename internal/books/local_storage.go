package books

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// LocalStorage provides an in-memory implementation of Storage.
//
// Writers take per-entity row locks (see Tx.Lock) for the whole unit of
// work and stage their writes privately; commit publishes them under the
// snapshot mutex so View never observes half a posting.
type LocalStorage struct {
	mu            sync.RWMutex
	accounts      map[string]*Account
	parties       map[string]*Party
	items         map[string]*InventoryItem
	salePurchases map[string]*SalePurchase
	movements     map[string]*CashMovement

	seq         atomic.Int64
	locks       *lockTable
	lockTimeout time.Duration
}

// LocalOption configures a LocalStorage.
type LocalOption func(*LocalStorage)

// WithLockTimeout bounds how long a unit of work waits for row locks.
// Zero waits until the caller's context is done.
func WithLockTimeout(d time.Duration) LocalOption {
	return func(l *LocalStorage) { l.lockTimeout = d }
}

// NewLocalStorage instantiates an empty LocalStorage.
func NewLocalStorage(opts ...LocalOption) *LocalStorage {
	l := &LocalStorage{
		accounts:      map[string]*Account{},
		parties:       map[string]*Party{},
		items:         map[string]*InventoryItem{},
		salePurchases: map[string]*SalePurchase{},
		movements:     map[string]*CashMovement{},
		locks:         &lockTable{rows: map[EntityKey]chan struct{}{}},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Close is a no-op for the in-memory storage.
func (l *LocalStorage) Close() error { return nil }

// Update runs fn as one unit of work.
func (l *LocalStorage) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx := &localTx{
		ctx:           ctx,
		s:             l,
		accounts:      map[string]*Account{},
		parties:       map[string]*Party{},
		items:         map[string]*InventoryItem{},
		deleted:       map[EntityKey]bool{},
		salePurchases: map[string]*SalePurchase{},
		movements:     map[string]*CashMovement{},
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit aborted: %w", err)
	}
	return l.commit(tx)
}

// View runs fn with the snapshot mutex held for reading.
func (l *LocalStorage) View(ctx context.Context, fn func(tx ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(localView{s: l})
}

func (l *LocalStorage) commit(tx *localTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUniqueNames(tx); err != nil {
		return err
	}
	for id := range tx.salePurchases {
		if _, ok := l.salePurchases[id]; ok {
			return newValidationError(RuleAlreadyPosted, "transaction %s is already posted", id)
		}
	}
	for id := range tx.movements {
		if _, ok := l.movements[id]; ok {
			return newValidationError(RuleAlreadyPosted, "transaction %s is already posted", id)
		}
	}

	for k := range tx.deleted {
		switch k.Type {
		case EntityAccount:
			delete(l.accounts, k.ID)
		case EntityParty:
			delete(l.parties, k.ID)
		case EntityInventory:
			delete(l.items, k.ID)
		}
	}
	for id, a := range tx.accounts {
		l.accounts[id] = a
	}
	for id, p := range tx.parties {
		l.parties[id] = p
	}
	for id, it := range tx.items {
		l.items[id] = it
	}
	for id, sp := range tx.salePurchases {
		l.salePurchases[id] = sp
	}
	for id, cm := range tx.movements {
		l.movements[id] = cm
	}
	return nil
}

// checkUniqueNames enforces account and inventory name uniqueness against
// the state the commit would produce. Caller holds l.mu.
func (l *LocalStorage) checkUniqueNames(tx *localTx) error {
	if len(tx.accounts) > 0 {
		names := map[string]string{}
		for id, a := range l.accounts {
			if tx.deleted[EntityKey{EntityAccount, id}] {
				continue
			}
			if _, staged := tx.accounts[id]; !staged {
				names[a.Name] = id
			}
		}
		for id, a := range tx.accounts {
			if other, ok := names[a.Name]; ok && other != id {
				return fmt.Errorf("account %q: %w", a.Name, ErrDuplicateName)
			}
			names[a.Name] = id
		}
	}
	if len(tx.items) > 0 {
		names := map[string]string{}
		for id, it := range l.items {
			if tx.deleted[EntityKey{EntityInventory, id}] {
				continue
			}
			if _, staged := tx.items[id]; !staged {
				names[it.Name] = id
			}
		}
		for id, it := range tx.items {
			if other, ok := names[it.Name]; ok && other != id {
				return fmt.Errorf("inventory item %q: %w", it.Name, ErrDuplicateName)
			}
			names[it.Name] = id
		}
	}
	return nil
}

// ─── Snapshot reads (caller holds l.mu) ─────────────────────────────────────

func (l *LocalStorage) account(id string) (*Account, error) {
	a, ok := l.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	c := *a
	return &c, nil
}

func (l *LocalStorage) party(id string) (*Party, error) {
	p, ok := l.parties[id]
	if !ok {
		return nil, notFound("party", id)
	}
	c := *p
	return &c, nil
}

func (l *LocalStorage) item(id string) (*InventoryItem, error) {
	it, ok := l.items[id]
	if !ok {
		return nil, notFound("inventory item", id)
	}
	c := *it
	return &c, nil
}

func (l *LocalStorage) salePurchase(id string) (*SalePurchase, error) {
	sp, ok := l.salePurchases[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	c := *sp
	return &c, nil
}

func (l *LocalStorage) cashMovement(id string) (*CashMovement, error) {
	cm, ok := l.movements[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	c := *cm
	return &c, nil
}

type localView struct{ s *LocalStorage }

func (v localView) Account(id string) (*Account, error)             { return v.s.account(id) }
func (v localView) Party(id string) (*Party, error)                 { return v.s.party(id) }
func (v localView) InventoryItem(id string) (*InventoryItem, error) { return v.s.item(id) }
func (v localView) SalePurchase(id string) (*SalePurchase, error)   { return v.s.salePurchase(id) }
func (v localView) CashMovement(id string) (*CashMovement, error)   { return v.s.cashMovement(id) }

func (v localView) Accounts() ([]*Account, error) {
	return sortedCopies(v.s.accounts, nil, nil, accountOrder), nil
}

func (v localView) Parties() ([]*Party, error) {
	return sortedCopies(v.s.parties, nil, nil, partyOrder), nil
}

func (v localView) InventoryItems() ([]*InventoryItem, error) {
	return sortedCopies(v.s.items, nil, nil, itemOrder), nil
}

func (v localView) SalePurchases(f TxFilter) ([]*SalePurchase, error) {
	return filterLog(v.s.salePurchases, nil, f.MatchSalePurchase), nil
}

func (v localView) CashMovements(f TxFilter) ([]*CashMovement, error) {
	return filterLog(v.s.movements, nil, f.MatchCashMovement), nil
}

// ─── Unit of work ───────────────────────────────────────────────────────────

type localTx struct {
	ctx  context.Context
	s    *LocalStorage
	held []chan struct{}
	// locked is set once Lock has been called.
	locked bool

	accounts      map[string]*Account
	parties       map[string]*Party
	items         map[string]*InventoryItem
	deleted       map[EntityKey]bool
	salePurchases map[string]*SalePurchase
	movements     map[string]*CashMovement
}

func (tx *localTx) release() {
	tx.s.locks.release(tx.held)
	tx.held = nil
}

func (tx *localTx) Lock(keys ...EntityKey) error {
	if tx.locked {
		return fmt.Errorf("row locks already taken in this unit of work")
	}
	tx.locked = true

	ctx := tx.ctx
	if tx.s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tx.s.lockTimeout)
		defer cancel()
	}
	held, err := tx.s.locks.acquire(ctx, LockOrder(keys))
	if err != nil {
		return err
	}
	tx.held = held
	return nil
}

func (tx *localTx) Account(id string) (*Account, error) {
	if tx.deleted[EntityKey{EntityAccount, id}] {
		return nil, notFound("account", id)
	}
	if a, ok := tx.accounts[id]; ok {
		c := *a
		return &c, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.account(id)
}

func (tx *localTx) Party(id string) (*Party, error) {
	if tx.deleted[EntityKey{EntityParty, id}] {
		return nil, notFound("party", id)
	}
	if p, ok := tx.parties[id]; ok {
		c := *p
		return &c, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.party(id)
}

func (tx *localTx) InventoryItem(id string) (*InventoryItem, error) {
	if tx.deleted[EntityKey{EntityInventory, id}] {
		return nil, notFound("inventory item", id)
	}
	if it, ok := tx.items[id]; ok {
		c := *it
		return &c, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.item(id)
}

func (tx *localTx) SalePurchase(id string) (*SalePurchase, error) {
	if sp, ok := tx.salePurchases[id]; ok {
		c := *sp
		return &c, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.salePurchase(id)
}

func (tx *localTx) CashMovement(id string) (*CashMovement, error) {
	if cm, ok := tx.movements[id]; ok {
		c := *cm
		return &c, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.cashMovement(id)
}

func (tx *localTx) Accounts() ([]*Account, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return sortedCopies(tx.s.accounts, tx.accounts, tx.deletedOf(EntityAccount), accountOrder), nil
}

func (tx *localTx) Parties() ([]*Party, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return sortedCopies(tx.s.parties, tx.parties, tx.deletedOf(EntityParty), partyOrder), nil
}

func (tx *localTx) InventoryItems() ([]*InventoryItem, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return sortedCopies(tx.s.items, tx.items, tx.deletedOf(EntityInventory), itemOrder), nil
}

func (tx *localTx) SalePurchases(f TxFilter) ([]*SalePurchase, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return filterLog(tx.s.salePurchases, tx.salePurchases, f.MatchSalePurchase), nil
}

func (tx *localTx) CashMovements(f TxFilter) ([]*CashMovement, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return filterLog(tx.s.movements, tx.movements, f.MatchCashMovement), nil
}

func (tx *localTx) PutAccount(a *Account) error {
	if a.ID == "" {
		return ErrEmptyID
	}
	c := *a
	tx.accounts[a.ID] = &c
	delete(tx.deleted, EntityKey{EntityAccount, a.ID})
	return nil
}

func (tx *localTx) DeleteAccount(id string) error {
	delete(tx.accounts, id)
	tx.deleted[EntityKey{EntityAccount, id}] = true
	return nil
}

func (tx *localTx) PutParty(p *Party) error {
	if p.ID == "" {
		return ErrEmptyID
	}
	c := *p
	tx.parties[p.ID] = &c
	delete(tx.deleted, EntityKey{EntityParty, p.ID})
	return nil
}

func (tx *localTx) DeleteParty(id string) error {
	delete(tx.parties, id)
	tx.deleted[EntityKey{EntityParty, id}] = true
	return nil
}

func (tx *localTx) PutInventoryItem(it *InventoryItem) error {
	if it.ID == "" {
		return ErrEmptyID
	}
	c := *it
	tx.items[it.ID] = &c
	delete(tx.deleted, EntityKey{EntityInventory, it.ID})
	return nil
}

func (tx *localTx) DeleteInventoryItem(id string) error {
	delete(tx.items, id)
	tx.deleted[EntityKey{EntityInventory, id}] = true
	return nil
}

func (tx *localTx) NextSeq() (int64, error) {
	return tx.s.seq.Add(1), nil
}

func (tx *localTx) AppendSalePurchase(sp *SalePurchase) error {
	if sp.ID == "" {
		return ErrEmptyID
	}
	if _, ok := tx.salePurchases[sp.ID]; ok {
		return newValidationError(RuleAlreadyPosted, "transaction %s is already posted", sp.ID)
	}
	c := *sp
	tx.salePurchases[sp.ID] = &c
	return nil
}

func (tx *localTx) AppendCashMovement(cm *CashMovement) error {
	if cm.ID == "" {
		return ErrEmptyID
	}
	if _, ok := tx.movements[cm.ID]; ok {
		return newValidationError(RuleAlreadyPosted, "transaction %s is already posted", cm.ID)
	}
	c := *cm
	tx.movements[cm.ID] = &c
	return nil
}

func (tx *localTx) deletedOf(t EntityType) map[string]bool {
	out := map[string]bool{}
	for k := range tx.deleted {
		if k.Type == t {
			out[k.ID] = true
		}
	}
	return out
}

// ─── Row locks ──────────────────────────────────────────────────────────────

// lockTable hands out one single-slot channel per entity; holding the slot
// is holding the row lock. Channels let a waiter give up when its context ends.
type lockTable struct {
	mu   sync.Mutex
	rows map[EntityKey]chan struct{}
}

func (lt *lockTable) row(k EntityKey) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.rows[k]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.rows[k] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, keys []EntityKey) ([]chan struct{}, error) {
	held := make([]chan struct{}, 0, len(keys))
	for _, k := range keys {
		ch := lt.row(k)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			lt.release(held)
			return nil, fmt.Errorf("lock %s %q: %w: %v", k.Type, k.ID, ErrConcurrencyConflict, ctx.Err())
		}
	}
	return held, nil
}

func (lt *lockTable) release(held []chan struct{}) {
	for i := len(held) - 1; i >= 0; i-- {
		<-held[i]
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func accountOrder(a, b *Account) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func partyOrder(a, b *Party) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func itemOrder(a, b *InventoryItem) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

// sortedCopies merges committed and staged records, skipping deleted ids.
func sortedCopies[T any](committed, staged map[string]*T, deleted map[string]bool, order func(a, b *T) int) []*T {
	out := make([]*T, 0, len(committed)+len(staged))
	for id, v := range committed {
		if deleted[id] {
			continue
		}
		if _, ok := staged[id]; ok {
			continue
		}
		c := *v
		out = append(out, &c)
	}
	for _, v := range staged {
		c := *v
		out = append(out, &c)
	}
	slices.SortFunc(out, order)
	return out
}

// filterLog returns copies of the matching log records in sequence order.
func filterLog[T any, PT interface {
	*T
	Transaction
}](committed, staged map[string]PT, match func(PT) bool) []PT {
	out := make([]PT, 0)
	for _, m := range []map[string]PT{committed, staged} {
		for _, t := range m {
			if match(t) {
				c := *t
				out = append(out, PT(&c))
			}
		}
	}
	slices.SortFunc(out, func(a, b PT) int { return cmp.Compare(a.Sequence(), b.Sequence()) })
	return out
}
