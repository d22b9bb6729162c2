package books

import (
	"cmp"
	"context"
	"slices"
)

// Storage is the persistence boundary of the core. All balance mutation
// happens inside Update; readers use View to see a consistent snapshot.
type Storage interface {
	// Update runs fn as one unit of work. If fn returns an error, or the
	// commit fails, none of its writes become visible.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent snapshot of entities and log.
	View(ctx context.Context, fn func(tx ReadTx) error) error
	Close() error
}

// ReadTx exposes the read side of a unit of work.
type ReadTx interface {
	Account(id string) (*Account, error)
	Accounts() ([]*Account, error)
	Party(id string) (*Party, error)
	Parties() ([]*Party, error)
	InventoryItem(id string) (*InventoryItem, error)
	InventoryItems() ([]*InventoryItem, error)

	SalePurchase(id string) (*SalePurchase, error)
	CashMovement(id string) (*CashMovement, error)
	// SalePurchases and CashMovements return matching records in sequence order.
	SalePurchases(f TxFilter) ([]*SalePurchase, error)
	CashMovements(f TxFilter) ([]*CashMovement, error)
}

// Tx is a read-write unit of work. The log only grows: there is no way to
// update or remove a posted transaction.
type Tx interface {
	ReadTx

	// Lock takes row locks on the given entities for the rest of the unit of
	// work. It may be called once; keys are acquired in LockOrder.
	Lock(keys ...EntityKey) error

	PutAccount(a *Account) error
	DeleteAccount(id string) error
	PutParty(p *Party) error
	DeleteParty(id string) error
	PutInventoryItem(it *InventoryItem) error
	DeleteInventoryItem(id string) error

	// NextSeq hands out the global insertion order of the log.
	NextSeq() (int64, error)
	AppendSalePurchase(sp *SalePurchase) error
	AppendCashMovement(cm *CashMovement) error
}

// EntityType ranks entities for lock ordering.
type EntityType int

const (
	EntityAccount EntityType = iota
	EntityParty
	EntityInventory
)

func (t EntityType) String() string {
	switch t {
	case EntityAccount:
		return "account"
	case EntityParty:
		return "party"
	case EntityInventory:
		return "inventory"
	}
	return "unknown"
}

// EntityKey identifies one lockable row.
type EntityKey struct {
	Type EntityType
	ID   string
}

// LockOrder sorts keys Account → Party → Inventory, then by id, and drops
// duplicates. Every storage acquires locks in this order so that two units
// of work can never wait on each other.
func LockOrder(keys []EntityKey) []EntityKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b EntityKey) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return slices.Compact(out)
}
