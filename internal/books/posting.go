package books

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxPlaces is the precision of quantities, prices and amounts.
const maxPlaces = 2

// effect is the signed change one transaction makes to the entities it
// references. Posting applies it forward; the ledgers replay it.
type effect struct {
	Account decimal.Decimal
	Party   decimal.Decimal
	Stock   decimal.Decimal
}

//	sale, cash        stock −q   account +amount
//	sale, credit      stock −q   party   +amount
//	purchase, cash    stock +q   account −amount
//	purchase, credit  stock +q   party   −amount
//	receive                      account +amount  party −amount
//	pay                          account −amount  party +amount
func effectOf(t Transaction) effect {
	var e effect
	switch v := t.(type) {
	case *SalePurchase:
		amount := v.Amount
		switch v.Purpose {
		case PurposeSale:
			e.Stock = v.Quantity.Neg()
		case PurposePurchase:
			e.Stock = v.Quantity
			amount = amount.Neg()
		}
		if v.PaymentMode == ModeCash {
			e.Account = amount
		} else {
			e.Party = amount
		}
	case *CashMovement:
		switch v.Type {
		case MovementReceive:
			e.Account = v.Amount
			e.Party = v.Amount.Neg()
		case MovementPay:
			e.Account = v.Amount.Neg()
			e.Party = v.Amount
		}
	}
	return e
}

// PostingEngine validates candidate transactions and applies them, together
// with their balance effects, as one unit of work. It is the only writer of
// Account.Balance, Party.CreditBalance and InventoryItem.Quantity.
type PostingEngine struct {
	storage Storage
	now     func() time.Time
	newID   func() string
}

// NewPostingEngine creates a PostingEngine over storage.
func NewPostingEngine(storage Storage) *PostingEngine {
	return &PostingEngine{
		storage: storage,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

type postOptions struct {
	// defaultPrice takes the unit price from the inventory item.
	defaultPrice bool
}

// Post validates candidate and, if every rule holds, updates the referenced
// entities and appends the transaction to the log. On any error the storage
// is left exactly as it was. The returned transaction carries its identity.
func (e *PostingEngine) Post(ctx context.Context, candidate Transaction) (Transaction, error) {
	return e.post(ctx, candidate, postOptions{})
}

func (e *PostingEngine) post(ctx context.Context, candidate Transaction, opts postOptions) (Transaction, error) {
	if candidate == nil {
		return nil, newValidationError(RuleInvalidKind, "no transaction given")
	}
	if candidate.TxID() != "" {
		return nil, newValidationError(RuleAlreadyPosted, "transaction %s is already posted; editing is not allowed", candidate.TxID())
	}

	switch c := candidate.(type) {
	case *SalePurchase:
		sp := *c
		if err := checkSalePurchase(&sp, opts); err != nil {
			return nil, err
		}
		err := e.storage.Update(ctx, func(tx Tx) error {
			return e.postSalePurchase(tx, &sp, opts)
		})
		if err != nil {
			return nil, err
		}
		return &sp, nil

	case *CashMovement:
		cm := *c
		if err := checkCashMovement(&cm); err != nil {
			return nil, err
		}
		err := e.storage.Update(ctx, func(tx Tx) error {
			return e.postCashMovement(tx, &cm)
		})
		if err != nil {
			return nil, err
		}
		return &cm, nil
	}
	return nil, newValidationError(RuleInvalidKind, "unsupported transaction type %T", candidate)
}

// checkSalePurchase applies the rules that need no stored state.
func checkSalePurchase(sp *SalePurchase, opts postOptions) error {
	switch sp.Purpose {
	case PurposeSale, PurposePurchase:
	default:
		return newValidationError(RuleInvalidKind, "unknown purpose %q", sp.Purpose)
	}
	if sp.PartyID == "" {
		return newValidationError(RuleMissingReference, "party is required")
	}
	if sp.InventoryID == "" {
		return newValidationError(RuleMissingReference, "inventory item is required")
	}
	switch sp.PaymentMode {
	case ModeCash:
		if sp.AccountID == "" {
			return newValidationError(RuleAccountModeMismatch, "cash transaction requires an account")
		}
	case ModeCredit:
		if sp.AccountID != "" {
			return newValidationError(RuleAccountModeMismatch, "credit transaction must not have an account")
		}
	default:
		return newValidationError(RuleInvalidPaymentMode, "unknown payment mode %q", sp.PaymentMode)
	}
	if !sp.Quantity.IsPositive() {
		return newValidationError(RuleInvalidQuantity, "quantity must be greater than zero, got %s", sp.Quantity)
	}
	if !fitsPlaces(sp.Quantity) {
		return newValidationError(RuleInvalidQuantity, "quantity %s has more than %d decimal places", sp.Quantity, maxPlaces)
	}
	if !opts.defaultPrice {
		if err := checkPrice(sp.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func checkCashMovement(cm *CashMovement) error {
	switch cm.Type {
	case MovementReceive, MovementPay:
	default:
		return newValidationError(RuleInvalidKind, "unknown movement type %q", cm.Type)
	}
	if cm.PartyID == "" {
		return newValidationError(RuleMissingReference, "party is required")
	}
	if cm.AccountID == "" {
		return newValidationError(RuleMissingReference, "account is required")
	}
	if !cm.Amount.IsPositive() {
		return newValidationError(RuleInvalidAmount, "amount must be greater than zero, got %s", cm.Amount)
	}
	if !fitsPlaces(cm.Amount) {
		return newValidationError(RuleInvalidAmount, "amount %s has more than %d decimal places", cm.Amount, maxPlaces)
	}
	return nil
}

func checkPrice(p decimal.Decimal) error {
	if p.IsNegative() {
		return newValidationError(RuleInvalidPrice, "unit price must not be negative, got %s", p)
	}
	if !fitsPlaces(p) {
		return newValidationError(RuleInvalidPrice, "unit price %s has more than %d decimal places", p, maxPlaces)
	}
	return nil
}

func fitsPlaces(d decimal.Decimal) bool {
	return d.Equal(d.Round(maxPlaces))
}

func (e *PostingEngine) postSalePurchase(tx Tx, sp *SalePurchase, opts postOptions) error {
	keys := []EntityKey{{EntityParty, sp.PartyID}, {EntityInventory, sp.InventoryID}}
	if sp.AccountID != "" {
		keys = append(keys, EntityKey{EntityAccount, sp.AccountID})
	}
	if err := tx.Lock(keys...); err != nil {
		return err
	}

	party, err := tx.Party(sp.PartyID)
	if err != nil {
		return err
	}
	item, err := tx.InventoryItem(sp.InventoryID)
	if err != nil {
		return err
	}
	var account *Account
	if sp.PaymentMode == ModeCash {
		if account, err = tx.Account(sp.AccountID); err != nil {
			return err
		}
	}

	if opts.defaultPrice {
		sp.UnitPrice = item.DefaultPrice
	}
	sp.Amount = amountOf(sp.Quantity, sp.UnitPrice)
	if err := e.settleDate(&sp.Date); err != nil {
		return err
	}

	switch sp.Purpose {
	case PurposeSale:
		if party.Kind != PartyCustomer {
			return newValidationError(RuleWrongPartyType, "sale must be to a customer, %q is a %s", party.Name, party.Kind)
		}
		floor, err := stockFloor(tx, item, sp.Date)
		if err != nil {
			return err
		}
		if floor.LessThan(sp.Quantity) {
			return newValidationError(RuleInsufficientStock, "not enough stock of %q on %s: have %s, need %s",
				item.Name, sp.Date.Format(time.DateOnly), floor, sp.Quantity)
		}
	case PurposePurchase:
		if party.Kind != PartySupplier {
			return newValidationError(RuleWrongPartyType, "purchase must be from a supplier, %q is a %s", party.Name, party.Kind)
		}
	}

	eff := effectOf(sp)
	item.Quantity = item.Quantity.Add(eff.Stock)
	if err := tx.PutInventoryItem(item); err != nil {
		return err
	}
	if account != nil {
		account.Balance = account.Balance.Add(eff.Account)
		if err := tx.PutAccount(account); err != nil {
			return err
		}
	} else {
		party.CreditBalance = party.CreditBalance.Add(eff.Party)
		if err := tx.PutParty(party); err != nil {
			return err
		}
	}

	if err := e.stamp(tx, &sp.ID, &sp.Seq); err != nil {
		return err
	}
	return tx.AppendSalePurchase(sp)
}

func (e *PostingEngine) postCashMovement(tx Tx, cm *CashMovement) error {
	if err := tx.Lock(EntityKey{EntityAccount, cm.AccountID}, EntityKey{EntityParty, cm.PartyID}); err != nil {
		return err
	}

	account, err := tx.Account(cm.AccountID)
	if err != nil {
		return err
	}
	party, err := tx.Party(cm.PartyID)
	if err != nil {
		return err
	}

	if err := e.settleDate(&cm.Date); err != nil {
		return err
	}

	switch cm.Type {
	case MovementReceive:
		if party.Kind != PartyCustomer {
			return newValidationError(RuleWrongPartyType, "can only receive from a customer, %q is a %s", party.Name, party.Kind)
		}
	case MovementPay:
		if party.Kind != PartySupplier {
			return newValidationError(RuleWrongPartyType, "can only pay to a supplier, %q is a %s", party.Name, party.Kind)
		}
	}

	eff := effectOf(cm)
	account.Balance = account.Balance.Add(eff.Account)
	party.CreditBalance = party.CreditBalance.Add(eff.Party)
	if err := tx.PutAccount(account); err != nil {
		return err
	}
	if err := tx.PutParty(party); err != nil {
		return err
	}

	if err := e.stamp(tx, &cm.ID, &cm.Seq); err != nil {
		return err
	}
	return tx.AppendCashMovement(cm)
}

// amountOf is quantity × unit price rounded half to even to two places,
// the precision amounts are stored and summed at.
func amountOf(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).RoundBank(maxPlaces)
}

// settleDate fills in the posting time, or checks a caller-supplied date
// is not in the future.
func (e *PostingEngine) settleDate(date *time.Time) error {
	now := e.now()
	if date.IsZero() {
		*date = now
	} else if date.After(now) {
		return newValidationError(RuleInvalidDate, "date %s is in the future", date.UTC().Format(time.RFC3339))
	}
	*date = date.UTC()
	return nil
}

// stockFloor returns the lowest quantity item holds from date onwards,
// walking back from the current quantity through movements dated after date.
func stockFloor(tx ReadTx, item *InventoryItem, date time.Time) (decimal.Decimal, error) {
	sps, err := tx.SalePurchases(TxFilter{InventoryID: item.ID})
	if err != nil {
		return decimal.Zero, err
	}
	later := slices.DeleteFunc(sps, func(sp *SalePurchase) bool { return !sp.Date.After(date) })
	slices.SortStableFunc(later, func(a, b *SalePurchase) int { return chronological(a, b) })

	floor, stock := item.Quantity, item.Quantity
	for i := len(later) - 1; i >= 0; i-- {
		stock = stock.Sub(effectOf(later[i]).Stock)
		floor = decimal.Min(floor, stock)
	}
	return floor, nil
}

// stamp gives a transaction its identity and log position.
func (e *PostingEngine) stamp(tx Tx, id *string, seq *int64) error {
	n, err := tx.NextSeq()
	if err != nil {
		return err
	}
	*id = e.newID()
	*seq = n
	return nil
}
