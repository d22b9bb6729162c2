package books

import "github.com/shopspring/decimal"

// Discrepancy is an entity whose cached balance or quantity differs from
// the value replayed from its opening value and the log. It always points
// at a defect; nothing corrects it automatically.
type Discrepancy struct {
	Entity   string          `json:"entity"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Cached   decimal.Decimal `json:"cached"`
	Replayed decimal.Decimal `json:"replayed"`
}

// Reconcile replays every account, party and inventory item inside tx.
func Reconcile(tx ReadTx) ([]Discrepancy, error) {
	var out []Discrepancy

	accounts, err := tx.Accounts()
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		l, err := ReadAccountLedger(tx, a.ID)
		if err != nil {
			return nil, err
		}
		if !l.ClosingBalance.Equal(a.Balance) {
			out = append(out, Discrepancy{Entity: EntityAccount.String(), ID: a.ID, Name: a.Name, Cached: a.Balance, Replayed: l.ClosingBalance})
		}
	}

	parties, err := tx.Parties()
	if err != nil {
		return nil, err
	}
	for _, p := range parties {
		l, err := ReadPartyLedger(tx, p.ID)
		if err != nil {
			return nil, err
		}
		if !l.ClosingBalance.Equal(p.CreditBalance) {
			out = append(out, Discrepancy{Entity: EntityParty.String(), ID: p.ID, Name: p.Name, Cached: p.CreditBalance, Replayed: l.ClosingBalance})
		}
	}

	items, err := tx.InventoryItems()
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		sales, err := tx.SalePurchases(TxFilter{InventoryID: it.ID})
		if err != nil {
			return nil, err
		}
		replayed := it.OpeningQuantity
		for _, sp := range sales {
			replayed = replayed.Add(effectOf(sp).Stock)
		}
		if !replayed.Equal(it.Quantity) {
			out = append(out, Discrepancy{Entity: EntityInventory.String(), ID: it.ID, Name: it.Name, Cached: it.Quantity, Replayed: replayed})
		}
	}
	return out, nil
}
