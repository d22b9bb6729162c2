package books

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"api_books/internal/metrics"
)

// Service provides the bookkeeping operations on a Storage backend. All
// balance and quantity mutation goes through CreateTransaction or Post.
type Service struct {
	storage Storage
	engine  *PostingEngine
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for entity creation and transaction dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.engine.now = now
	}
}

// NewService creates a new Service.
func NewService(storage Storage, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	s := &Service{
		storage: storage,
		engine:  NewPostingEngine(storage),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Inputs ─────────────────────────────────────────────────────────────────

// AccountInput describes a new account.
type AccountInput struct {
	Name           string          `json:"name"`
	Kind           AccountKind     `json:"kind"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// AccountUpdate changes the descriptive fields of an account.
type AccountUpdate struct {
	Name *string `json:"name"`
}

// PartyInput describes a new party.
type PartyInput struct {
	Name           string          `json:"name"`
	Kind           PartyKind       `json:"kind"`
	Phone          string          `json:"phone"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// PartyUpdate changes the descriptive fields of a party.
type PartyUpdate struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

// InventoryInput describes a new inventory item.
type InventoryInput struct {
	Name            string          `json:"name"`
	Unit            Unit            `json:"unit"`
	OpeningQuantity decimal.Decimal `json:"opening_quantity"`
	DefaultPrice    decimal.Decimal `json:"default_price"`
}

// InventoryUpdate changes the descriptive fields of an inventory item.
type InventoryUpdate struct {
	Name         *string          `json:"name"`
	Unit         *Unit            `json:"unit"`
	DefaultPrice *decimal.Decimal `json:"default_price"`
}

// TransactionRequest carries the caller-settable fields of a new
// transaction. Which fields apply depends on the kind. A nil UnitPrice
// takes the item's default price; a nil Date means now.
type TransactionRequest struct {
	PaymentMode PaymentMode      `json:"payment_mode"`
	PartyID     string           `json:"party_id"`
	InventoryID string           `json:"inventory_id"`
	AccountID   string           `json:"account_id"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal  `json:"amount"`
	Date        *time.Time       `json:"date"`
}

// ─── Accounts ───────────────────────────────────────────────────────────────

// CreateAccount creates an account whose balance starts at the opening balance.
func (s *Service) CreateAccount(ctx context.Context, in AccountInput) (*Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newValidationError(RuleInvalidName, "account name is required")
	}
	if in.Kind != AccountCash && in.Kind != AccountBank {
		return nil, newValidationError(RuleInvalidKind, "unknown account kind %q", in.Kind)
	}
	if !fitsPlaces(in.OpeningBalance) {
		return nil, newValidationError(RuleInvalidAmount, "opening balance %s has more than %d decimal places", in.OpeningBalance, maxPlaces)
	}

	account := &Account{
		ID:             uuid.NewString(),
		Name:           name,
		Kind:           in.Kind,
		OpeningBalance: in.OpeningBalance,
		Balance:        in.OpeningBalance,
		CreatedAt:      s.now().UTC(),
	}
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := uniqueAccountName(tx, account.ID, name); err != nil {
			return err
		}
		return tx.PutAccount(account)
	})
	if err != nil {
		s.logger.Warn("failed to create account", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	s.logger.Info("account created", zap.String("account_id", account.ID), zap.Any("account", account))
	return account, nil
}

// GetAccount returns the current state of an account.
func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a *Account
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		a, err = tx.Account(id)
		return err
	})
	return a, err
}

// ListAccounts returns every account in creation order.
func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	var out []*Account
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		out, err = tx.Accounts()
		return err
	})
	return out, err
}

// UpdateAccount renames an account. Balances and kind are not editable.
func (s *Service) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*Account, error) {
	var account *Account
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := tx.Lock(EntityKey{EntityAccount, id}); err != nil {
			return err
		}
		a, err := tx.Account(id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return newValidationError(RuleInvalidName, "account name is required")
			}
			if err := uniqueAccountName(tx, id, name); err != nil {
				return err
			}
			a.Name = name
		}
		account = a
		return tx.PutAccount(a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account updated", zap.String("account_id", id))
	return account, nil
}

// DeleteAccount removes an account no transaction references.
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := tx.Lock(EntityKey{EntityAccount, id}); err != nil {
			return err
		}
		if _, err := tx.Account(id); err != nil {
			return err
		}
		if err := ensureUnreferenced(tx, TxFilter{AccountID: id}, "account", id); err != nil {
			return err
		}
		return tx.DeleteAccount(id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("account_id", id))
	return nil
}

// ─── Parties ────────────────────────────────────────────────────────────────

// CreateParty creates a party whose credit balance starts at the opening balance.
func (s *Service) CreateParty(ctx context.Context, in PartyInput) (*Party, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newValidationError(RuleInvalidName, "party name is required")
	}
	if in.Kind != PartyCustomer && in.Kind != PartySupplier {
		return nil, newValidationError(RuleInvalidKind, "unknown party kind %q", in.Kind)
	}
	if !fitsPlaces(in.OpeningBalance) {
		return nil, newValidationError(RuleInvalidAmount, "opening balance %s has more than %d decimal places", in.OpeningBalance, maxPlaces)
	}

	party := &Party{
		ID:             uuid.NewString(),
		Name:           name,
		Kind:           in.Kind,
		Phone:          strings.TrimSpace(in.Phone),
		OpeningBalance: in.OpeningBalance,
		CreditBalance:  in.OpeningBalance,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.storage.Update(ctx, func(tx Tx) error { return tx.PutParty(party) }); err != nil {
		s.logger.Warn("failed to create party", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	s.logger.Info("party created", zap.String("party_id", party.ID), zap.Any("party", party))
	return party, nil
}

// GetParty returns the current state of a party.
func (s *Service) GetParty(ctx context.Context, id string) (*Party, error) {
	var p *Party
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		p, err = tx.Party(id)
		return err
	})
	return p, err
}

// ListParties returns every party in creation order.
func (s *Service) ListParties(ctx context.Context) ([]*Party, error) {
	var out []*Party
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		out, err = tx.Parties()
		return err
	})
	return out, err
}

// UpdateParty changes a party's name or phone. The opening balance is
// fixed once the party exists.
func (s *Service) UpdateParty(ctx context.Context, id string, upd PartyUpdate) (*Party, error) {
	var party *Party
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := tx.Lock(EntityKey{EntityParty, id}); err != nil {
			return err
		}
		p, err := tx.Party(id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return newValidationError(RuleInvalidName, "party name is required")
			}
			p.Name = name
		}
		if upd.Phone != nil {
			p.Phone = strings.TrimSpace(*upd.Phone)
		}
		party = p
		return tx.PutParty(p)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("party updated", zap.String("party_id", id))
	return party, nil
}

// DeleteParty removes a party no transaction references.
func (s *Service) DeleteParty(ctx context.Context, id string) error {
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := tx.Lock(EntityKey{EntityParty, id}); err != nil {
			return err
		}
		if _, err := tx.Party(id); err != nil {
			return err
		}
		if err := ensureUnreferenced(tx, TxFilter{PartyID: id}, "party", id); err != nil {
			return err
		}
		return tx.DeleteParty(id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("party deleted", zap.String("party_id", id))
	return nil
}

// ─── Inventory ──────────────────────────────────────────────────────────────

// CreateInventoryItem creates an item whose quantity starts at the opening quantity.
func (s *Service) CreateInventoryItem(ctx context.Context, in InventoryInput) (*InventoryItem, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newValidationError(RuleInvalidName, "inventory name is required")
	}
	unit := in.Unit
	if unit == "" {
		unit = UnitWeight
	}
	if unit != UnitWeight && unit != UnitCount {
		return nil, newValidationError(RuleInvalidKind, "unknown unit %q", in.Unit)
	}
	if in.OpeningQuantity.IsNegative() || !fitsPlaces(in.OpeningQuantity) {
		return nil, newValidationError(RuleInvalidQuantity, "opening quantity must be non-negative with at most %d decimal places, got %s", maxPlaces, in.OpeningQuantity)
	}
	if err := checkPrice(in.DefaultPrice); err != nil {
		return nil, err
	}

	item := &InventoryItem{
		ID:              uuid.NewString(),
		Name:            name,
		Unit:            unit,
		OpeningQuantity: in.OpeningQuantity,
		Quantity:        in.OpeningQuantity,
		DefaultPrice:    in.DefaultPrice,
		CreatedAt:       s.now().UTC(),
	}
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := uniqueItemName(tx, item.ID, name); err != nil {
			return err
		}
		return tx.PutInventoryItem(item)
	})
	if err != nil {
		s.logger.Warn("failed to create inventory item", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	s.logger.Info("inventory item created", zap.String("inventory_id", item.ID), zap.Any("item", item))
	return item, nil
}

// GetInventoryItem returns the current state of an item.
func (s *Service) GetInventoryItem(ctx context.Context, id string) (*InventoryItem, error) {
	var it *InventoryItem
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		it, err = tx.InventoryItem(id)
		return err
	})
	return it, err
}

// ListInventoryItems returns every item in creation order.
func (s *Service) ListInventoryItems(ctx context.Context) ([]*InventoryItem, error) {
	var out []*InventoryItem
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		out, err = tx.InventoryItems()
		return err
	})
	return out, err
}

// UpdateInventoryItem changes an item's name, unit or default price. The
// quantity on hand only moves through sales and purchases.
func (s *Service) UpdateInventoryItem(ctx context.Context, id string, upd InventoryUpdate) (*InventoryItem, error) {
	var item *InventoryItem
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := tx.Lock(EntityKey{EntityInventory, id}); err != nil {
			return err
		}
		it, err := tx.InventoryItem(id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return newValidationError(RuleInvalidName, "inventory name is required")
			}
			if err := uniqueItemName(tx, id, name); err != nil {
				return err
			}
			it.Name = name
		}
		if upd.Unit != nil {
			if *upd.Unit != UnitWeight && *upd.Unit != UnitCount {
				return newValidationError(RuleInvalidKind, "unknown unit %q", *upd.Unit)
			}
			it.Unit = *upd.Unit
		}
		if upd.DefaultPrice != nil {
			if err := checkPrice(*upd.DefaultPrice); err != nil {
				return err
			}
			it.DefaultPrice = *upd.DefaultPrice
		}
		item = it
		return tx.PutInventoryItem(it)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("inventory item updated", zap.String("inventory_id", id))
	return item, nil
}

// DeleteInventoryItem removes an item no transaction references.
func (s *Service) DeleteInventoryItem(ctx context.Context, id string) error {
	err := s.storage.Update(ctx, func(tx Tx) error {
		if err := tx.Lock(EntityKey{EntityInventory, id}); err != nil {
			return err
		}
		if _, err := tx.InventoryItem(id); err != nil {
			return err
		}
		if err := ensureUnreferenced(tx, TxFilter{InventoryID: id}, "inventory item", id); err != nil {
			return err
		}
		return tx.DeleteInventoryItem(id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("inventory item deleted", zap.String("inventory_id", id))
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// CreateTransaction builds a candidate of the given kind from req and posts it.
// The kind decides purpose or movement type; callers cannot set them.
func (s *Service) CreateTransaction(ctx context.Context, kind Kind, req TransactionRequest) (Transaction, error) {
	var (
		candidate Transaction
		opts      postOptions
	)
	switch kind {
	case KindSale, KindPurchase:
		sp := &SalePurchase{
			Purpose:     Purpose(kind),
			PaymentMode: req.PaymentMode,
			PartyID:     req.PartyID,
			InventoryID: req.InventoryID,
			AccountID:   req.AccountID,
			Quantity:    req.Quantity,
		}
		if req.UnitPrice != nil {
			sp.UnitPrice = *req.UnitPrice
		} else {
			opts.defaultPrice = true
		}
		if req.Date != nil {
			sp.Date = *req.Date
		}
		candidate = sp
	case KindReceive, KindPay:
		cm := &CashMovement{
			Type:      MovementType(kind),
			PartyID:   req.PartyID,
			AccountID: req.AccountID,
			Amount:    req.Amount,
		}
		if req.Date != nil {
			cm.Date = *req.Date
		}
		candidate = cm
	default:
		return nil, newValidationError(RuleInvalidKind, "unknown transaction kind %q", kind)
	}
	return s.post(ctx, candidate, opts)
}

// Post posts a pre-built candidate. A candidate that already has an
// identity is rejected with AlreadyPosted.
func (s *Service) Post(ctx context.Context, candidate Transaction) (Transaction, error) {
	return s.post(ctx, candidate, postOptions{})
}

func (s *Service) post(ctx context.Context, candidate Transaction, opts postOptions) (Transaction, error) {
	kind := "unknown"
	if candidate != nil {
		kind = string(candidate.Kind())
	}
	start := time.Now()
	posted, err := s.engine.post(ctx, candidate, opts)
	metrics.PostingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		if rule, ok := RuleOf(err); ok {
			metrics.Postings.WithLabelValues(kind, metrics.OutcomeRejected).Inc()
			s.logger.Warn("transaction rejected", zap.String("kind", kind), zap.String("rule", string(rule)), zap.Error(err))
			return nil, err
		}
		metrics.Postings.WithLabelValues(kind, metrics.OutcomeFailed).Inc()
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrencyConflict) {
			s.logger.Warn("transaction not posted", zap.String("kind", kind), zap.Error(err))
		} else {
			s.logger.Error("failed to post transaction", zap.String("kind", kind), zap.Error(err))
		}
		return nil, err
	}

	metrics.Postings.WithLabelValues(kind, metrics.OutcomePosted).Inc()
	s.logger.Info("transaction posted",
		zap.String("kind", kind),
		zap.String("transaction_id", posted.TxID()),
		zap.Int64("seq", posted.Sequence()),
		zap.Any("transaction", posted),
	)
	return posted, nil
}

// GetTransaction looks a posted transaction up in both logs.
func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var t Transaction
	err := s.storage.View(ctx, func(tx ReadTx) error {
		var err error
		t, err = findTransaction(tx, id)
		return err
	})
	return t, err
}

// GetSalePurchase returns a posted sale or purchase.
func (s *Service) GetSalePurchase(ctx context.Context, id string) (*SalePurchase, error) {
	var sp *SalePurchase
	err := s.storage.View(ctx, func(tx ReadTx) error {
		var err error
		sp, err = tx.SalePurchase(id)
		return err
	})
	return sp, err
}

// GetCashMovement returns a posted receipt or payment.
func (s *Service) GetCashMovement(ctx context.Context, id string) (*CashMovement, error) {
	var cm *CashMovement
	err := s.storage.View(ctx, func(tx ReadTx) error {
		var err error
		cm, err = tx.CashMovement(id)
		return err
	})
	return cm, err
}

// ListTransactions returns the posted transactions of one kind matching f,
// in log order. Sales, purchases, receipts and payments are views over the
// two logs, not separate storage.
func (s *Service) ListTransactions(ctx context.Context, kind Kind, f TxFilter) ([]Transaction, error) {
	out := make([]Transaction, 0)
	err := s.storage.View(ctx, func(tx ReadTx) error {
		switch kind {
		case KindSale, KindPurchase:
			switch f.PaymentMode {
			case "", ModeCash, ModeCredit:
			default:
				return newValidationError(RuleInvalidPaymentMode, "unknown payment mode %q", f.PaymentMode)
			}
			f.Purpose = Purpose(kind)
			sps, err := tx.SalePurchases(f)
			if err != nil {
				return err
			}
			for _, sp := range sps {
				out = append(out, sp)
			}
		case KindReceive, KindPay:
			if f.PaymentMode != "" || f.InventoryID != "" {
				return newValidationError(RuleInvalidFilter, "%s has no payment mode or inventory item to filter on", kind)
			}
			f.Type = MovementType(kind)
			cms, err := tx.CashMovements(f)
			if err != nil {
				return err
			}
			for _, cm := range cms {
				out = append(out, cm)
			}
		default:
			return newValidationError(RuleInvalidKind, "unknown transaction kind %q", kind)
		}
		return nil
	})
	return out, err
}

// UpdateTransaction always fails: posted transactions are immutable.
func (s *Service) UpdateTransaction(ctx context.Context, id string) error {
	return s.refuseChange(ctx, id, "edit")
}

// DeleteTransaction always fails: the log is append-only.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	return s.refuseChange(ctx, id, "delete")
}

func (s *Service) refuseChange(ctx context.Context, id, op string) error {
	if _, err := s.GetTransaction(ctx, id); err != nil {
		return err
	}
	s.logger.Warn("refused to change posted transaction", zap.String("transaction_id", id), zap.String("op", op))
	return newValidationError(RuleAlreadyPosted, "transaction %s is posted; %s is not allowed", id, op)
}

// ─── Ledgers ────────────────────────────────────────────────────────────────

// GetAccountLedger reconstructs an account ledger from one snapshot.
func (s *Service) GetAccountLedger(ctx context.Context, accountID string) (*AccountLedger, error) {
	var l *AccountLedger
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		l, err = ReadAccountLedger(tx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerReads.WithLabelValues("account").Inc()
	return l, nil
}

// GetPartyLedger reconstructs a party ledger from one snapshot.
func (s *Service) GetPartyLedger(ctx context.Context, partyID string) (*PartyLedger, error) {
	var l *PartyLedger
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		l, err = ReadPartyLedger(tx, partyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerReads.WithLabelValues("party").Inc()
	return l, nil
}

// GetStockLedger reconstructs a stock ledger from one snapshot.
func (s *Service) GetStockLedger(ctx context.Context, itemID string) (*StockLedger, error) {
	var l *StockLedger
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		l, err = ReadStockLedger(tx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerReads.WithLabelValues("stock").Inc()
	return l, nil
}

// Reconcile checks the round-trip invariant for every entity.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	var out []Discrepancy
	err := s.storage.View(ctx, func(tx ReadTx) (err error) {
		out, err = Reconcile(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ReconcileDiscrepancies.Set(float64(len(out)))
	for _, d := range out {
		s.logger.Error("balance does not match replayed log",
			zap.String("entity", d.Entity),
			zap.String("id", d.ID),
			zap.String("cached", d.Cached.String()),
			zap.String("replayed", d.Replayed.String()),
		)
	}
	return out, nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

func findTransaction(tx ReadTx, id string) (Transaction, error) {
	sp, err := tx.SalePurchase(id)
	if err == nil {
		return sp, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	cm, err := tx.CashMovement(id)
	if err != nil {
		return nil, err
	}
	return cm, nil
}

func ensureUnreferenced(tx ReadTx, f TxFilter, entity, id string) error {
	sps, err := tx.SalePurchases(f)
	if err != nil {
		return err
	}
	n := len(sps)
	if f.InventoryID == "" {
		cms, err := tx.CashMovements(f)
		if err != nil {
			return err
		}
		n += len(cms)
	}
	if n > 0 {
		return fmt.Errorf("%s %q has %d transactions: %w", entity, id, n, ErrReferenced)
	}
	return nil
}

func uniqueAccountName(tx ReadTx, id, name string) error {
	accounts, err := tx.Accounts()
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.ID != id && a.Name == name {
			return fmt.Errorf("account %q: %w", name, ErrDuplicateName)
		}
	}
	return nil
}

func uniqueItemName(tx ReadTx, id, name string) error {
	items, err := tx.InventoryItems()
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.ID != id && it.Name == name {
			return fmt.Errorf("inventory item %q: %w", name, ErrDuplicateName)
		}
	}
	return nil
}
