package books

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountLedgerRow is one cash-mode sale/purchase or cash movement seen
// from an account.
type AccountLedgerRow struct {
	Date          time.Time       `json:"date"`
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Party         string          `json:"party"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Balance       decimal.Decimal `json:"balance"`
}

// AccountLedger is the chronological history of an account replayed from
// its opening balance.
type AccountLedger struct {
	Account        *Account           `json:"account"`
	Rows           []AccountLedgerRow `json:"rows"`
	ClosingBalance decimal.Decimal    `json:"closing_balance"`
}

// PartyLedgerRow is one transaction seen from a party. Quantity and Rate
// are null for cash movements.
type PartyLedgerRow struct {
	Date          time.Time           `json:"date"`
	TransactionID string              `json:"transaction_id"`
	Type          string              `json:"type"`
	Mode          string              `json:"mode"`
	Product       string              `json:"product"`
	Quantity      decimal.NullDecimal `json:"quantity"`
	Rate          decimal.NullDecimal `json:"rate"`
	Amount        decimal.Decimal     `json:"amount"`
	Balance       decimal.Decimal     `json:"balance"`
}

// PartyLedger is the chronological history of a party. Only credit-mode
// sales and purchases and cash movements move the balance; cash-mode
// sales and purchases are listed with the balance unchanged.
type PartyLedger struct {
	Party          *Party           `json:"party"`
	Rows           []PartyLedgerRow `json:"rows"`
	ClosingBalance decimal.Decimal  `json:"closing_balance"`
}

// StockLedgerRow is one sale or purchase seen from an inventory item.
type StockLedgerRow struct {
	Date          time.Time       `json:"date"`
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Party         string          `json:"party"`
	Mode          string          `json:"mode"`
	QtyIn         decimal.Decimal `json:"qty_in"`
	QtyOut        decimal.Decimal `json:"qty_out"`
	Rate          decimal.Decimal `json:"rate"`
	StockAfter    decimal.Decimal `json:"stock_after"`
	StockBefore   decimal.Decimal `json:"stock_before"`
}

// StockLedger is the history of an item reconstructed backwards from its
// current quantity. OpeningQuantity is the stock before the oldest row.
type StockLedger struct {
	Item            *InventoryItem   `json:"item"`
	Rows            []StockLedgerRow `json:"rows"`
	OpeningQuantity decimal.Decimal  `json:"opening_quantity"`
}

// chronological orders by date, then by log position.
func chronological(a, b Transaction) int {
	return cmp.Or(a.When().Compare(b.When()), cmp.Compare(a.Sequence(), b.Sequence()))
}

func label(s string) string { return strings.ToUpper(s) }

// ReadAccountLedger reconstructs the ledger of an account from tx.
func ReadAccountLedger(tx ReadTx, accountID string) (*AccountLedger, error) {
	account, err := tx.Account(accountID)
	if err != nil {
		return nil, err
	}
	sales, err := tx.SalePurchases(TxFilter{AccountID: accountID, PaymentMode: ModeCash})
	if err != nil {
		return nil, err
	}
	movements, err := tx.CashMovements(TxFilter{AccountID: accountID})
	if err != nil {
		return nil, err
	}

	entries := make([]Transaction, 0, len(sales)+len(movements))
	for _, sp := range sales {
		entries = append(entries, sp)
	}
	for _, cm := range movements {
		entries = append(entries, cm)
	}
	slices.SortStableFunc(entries, chronological)

	names := newNameCache(tx)
	balance := account.OpeningBalance
	rows := make([]AccountLedgerRow, 0, len(entries))
	for _, t := range entries {
		partyID, amount := partyAndAmount(t)
		partyName, err := names.party(partyID)
		if err != nil {
			return nil, err
		}

		row := AccountLedgerRow{
			Date:          t.When(),
			TransactionID: t.TxID(),
			Type:          label(string(t.Kind())),
			Party:         partyName,
		}
		switch t.Kind() {
		case KindSale, KindReceive:
			row.Credit = amount
		case KindPurchase, KindPay:
			row.Debit = amount
		}
		balance = balance.Add(effectOf(t).Account)
		row.Balance = balance
		rows = append(rows, row)
	}

	return &AccountLedger{Account: account, Rows: rows, ClosingBalance: balance}, nil
}

// ReadPartyLedger reconstructs the ledger of a party from tx.
func ReadPartyLedger(tx ReadTx, partyID string) (*PartyLedger, error) {
	party, err := tx.Party(partyID)
	if err != nil {
		return nil, err
	}
	sales, err := tx.SalePurchases(TxFilter{PartyID: partyID})
	if err != nil {
		return nil, err
	}
	movements, err := tx.CashMovements(TxFilter{PartyID: partyID})
	if err != nil {
		return nil, err
	}

	entries := make([]Transaction, 0, len(sales)+len(movements))
	for _, sp := range sales {
		entries = append(entries, sp)
	}
	for _, cm := range movements {
		entries = append(entries, cm)
	}
	slices.SortStableFunc(entries, chronological)

	names := newNameCache(tx)
	balance := party.OpeningBalance
	rows := make([]PartyLedgerRow, 0, len(entries))
	for _, t := range entries {
		row := PartyLedgerRow{
			Date:          t.When(),
			TransactionID: t.TxID(),
			Type:          label(string(t.Kind())),
		}
		switch v := t.(type) {
		case *SalePurchase:
			product, err := names.item(v.InventoryID)
			if err != nil {
				return nil, err
			}
			row.Mode = label(string(v.PaymentMode))
			row.Product = product
			row.Quantity = decimal.NewNullDecimal(v.Quantity)
			row.Rate = decimal.NewNullDecimal(v.UnitPrice)
			row.Amount = v.Amount
		case *CashMovement:
			row.Mode = label(string(ModeCash))
			row.Product = "-"
			row.Amount = v.Amount
		}
		balance = balance.Add(effectOf(t).Party)
		row.Balance = balance
		rows = append(rows, row)
	}

	return &PartyLedger{Party: party, Rows: rows, ClosingBalance: balance}, nil
}

// ReadStockLedger reconstructs the stock history of an item. It walks the
// item's sales and purchases newest first, starting from the current
// quantity, and returns the rows oldest first.
func ReadStockLedger(tx ReadTx, itemID string) (*StockLedger, error) {
	item, err := tx.InventoryItem(itemID)
	if err != nil {
		return nil, err
	}
	sales, err := tx.SalePurchases(TxFilter{InventoryID: itemID})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(sales, func(a, b *SalePurchase) int { return chronological(b, a) })

	names := newNameCache(tx)
	running := item.Quantity
	rows := make([]StockLedgerRow, 0, len(sales))
	for _, sp := range sales {
		partyName, err := names.party(sp.PartyID)
		if err != nil {
			return nil, err
		}

		row := StockLedgerRow{
			Date:          sp.Date,
			TransactionID: sp.ID,
			Type:          label(string(sp.Purpose)),
			Party:         partyName,
			Mode:          label(string(sp.PaymentMode)),
			Rate:          sp.UnitPrice,
			StockAfter:    running,
		}
		if sp.Purpose == PurposeSale {
			row.QtyOut = sp.Quantity
		} else {
			row.QtyIn = sp.Quantity
		}
		row.StockBefore = running.Sub(effectOf(sp).Stock)
		running = row.StockBefore
		rows = append(rows, row)
	}
	slices.Reverse(rows)

	return &StockLedger{Item: item, Rows: rows, OpeningQuantity: running}, nil
}

func partyAndAmount(t Transaction) (string, decimal.Decimal) {
	switch v := t.(type) {
	case *SalePurchase:
		return v.PartyID, v.Amount
	case *CashMovement:
		return v.PartyID, v.Amount
	}
	return "", decimal.Zero
}

// nameCache resolves display names once per ledger.
type nameCache struct {
	tx      ReadTx
	parties map[string]string
	items   map[string]string
}

func newNameCache(tx ReadTx) *nameCache {
	return &nameCache{tx: tx, parties: map[string]string{}, items: map[string]string{}}
}

func (c *nameCache) party(id string) (string, error) {
	if n, ok := c.parties[id]; ok {
		return n, nil
	}
	p, err := c.tx.Party(id)
	if err != nil {
		return "", err
	}
	c.parties[id] = p.Name
	return p.Name, nil
}

func (c *nameCache) item(id string) (string, error) {
	if n, ok := c.items[id]; ok {
		return n, nil
	}
	it, err := c.tx.InventoryItem(id)
	if err != nil {
		return "", err
	}
	c.items[id] = it.Name
	return it.Name, nil
}
