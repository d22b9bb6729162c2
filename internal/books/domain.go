package books

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes a cash till from a bank account.
type AccountKind string

const (
	AccountCash AccountKind = "cash"
	AccountBank AccountKind = "bank"
)

// PartyKind distinguishes customers from suppliers.
type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

// Unit is the unit an inventory item is counted in.
type Unit string

const (
	UnitWeight Unit = "kg"
	UnitCount  Unit = "pcs"
)

// Purpose tells a sale from a purchase.
type Purpose string

const (
	PurposeSale     Purpose = "sale"
	PurposePurchase Purpose = "purchase"
)

// PaymentMode is orthogonal to Purpose: cash settles through an account,
// credit moves the party's running balance instead.
type PaymentMode string

const (
	ModeCash   PaymentMode = "cash"
	ModeCredit PaymentMode = "credit"
)

// MovementType tells money received from a customer from money paid to a supplier.
type MovementType string

const (
	MovementReceive MovementType = "receive"
	MovementPay     MovementType = "pay"
)

// Kind is the caller-facing transaction kind. It fixes Purpose or
// MovementType server-side.
type Kind string

const (
	KindSale     Kind = "sale"
	KindPurchase Kind = "purchase"
	KindReceive  Kind = "receive"
	KindPay      Kind = "pay"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSale, KindPurchase, KindReceive, KindPay:
		return k, nil
	}
	return "", newValidationError(RuleInvalidKind, "unknown transaction kind %q", s)
}

// Account is a cash or bank till. Balance is a cached projection of the log.
type Account struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Kind           AccountKind     `json:"kind"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Party is a customer or supplier. For a customer a positive CreditBalance
// means they owe us; for a supplier a negative one means we owe them.
type Party struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Kind           PartyKind       `json:"kind"`
	Phone          string          `json:"phone,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreditBalance  decimal.Decimal `json:"credit_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InventoryItem is a stocked product.
type InventoryItem struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Unit            Unit            `json:"unit"`
	OpeningQuantity decimal.Decimal `json:"opening_quantity"`
	Quantity        decimal.Decimal `json:"quantity"`
	DefaultPrice    decimal.Decimal `json:"default_price"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Transaction is implemented by the two immutable log record types.
type Transaction interface {
	TxID() string
	Kind() Kind
	When() time.Time
	Sequence() int64
}

// SalePurchase is a sale to a customer or a purchase from a supplier.
// AccountID is set iff PaymentMode is cash. Amount is always
// Quantity × UnitPrice and is derived by the posting engine.
type SalePurchase struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Purpose     Purpose         `json:"purpose"`
	PaymentMode PaymentMode     `json:"payment_mode"`
	PartyID     string          `json:"party_id"`
	InventoryID string          `json:"inventory_id"`
	AccountID   string          `json:"account_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
}

func (sp *SalePurchase) TxID() string    { return sp.ID }
func (sp *SalePurchase) When() time.Time { return sp.Date }
func (sp *SalePurchase) Sequence() int64 { return sp.Seq }

func (sp *SalePurchase) Kind() Kind {
	if sp.Purpose == PurposePurchase {
		return KindPurchase
	}
	return KindSale
}

// CashMovement is money received from a customer or paid to a supplier
// through an account.
type CashMovement struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      MovementType    `json:"type"`
	PartyID   string          `json:"party_id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
}

func (cm *CashMovement) TxID() string    { return cm.ID }
func (cm *CashMovement) When() time.Time { return cm.Date }
func (cm *CashMovement) Sequence() int64 { return cm.Seq }

func (cm *CashMovement) Kind() Kind {
	if cm.Type == MovementPay {
		return KindPay
	}
	return KindReceive
}

// TxFilter selects log records. Empty fields match everything.
type TxFilter struct {
	AccountID   string
	PartyID     string
	InventoryID string
	Purpose     Purpose
	PaymentMode PaymentMode
	Type        MovementType
}

// MatchSalePurchase reports whether sp passes the filter.
func (f TxFilter) MatchSalePurchase(sp *SalePurchase) bool {
	if f.Type != "" {
		return false
	}
	return (f.AccountID == "" || sp.AccountID == f.AccountID) &&
		(f.PartyID == "" || sp.PartyID == f.PartyID) &&
		(f.InventoryID == "" || sp.InventoryID == f.InventoryID) &&
		(f.Purpose == "" || sp.Purpose == f.Purpose) &&
		(f.PaymentMode == "" || sp.PaymentMode == f.PaymentMode)
}

// MatchCashMovement reports whether cm passes the filter. Inventory, purpose
// and payment-mode constraints never match a movement.
func (f TxFilter) MatchCashMovement(cm *CashMovement) bool {
	if f.InventoryID != "" || f.Purpose != "" || f.PaymentMode != "" {
		return false
	}
	return (f.AccountID == "" || cm.AccountID == f.AccountID) &&
		(f.PartyID == "" || cm.PartyID == f.PartyID) &&
		(f.Type == "" || cm.Type == f.Type)
}
