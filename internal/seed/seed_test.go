package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"api_books/internal/books"
)

const fixture = `
accounts:
  - name: Main Cash
    kind: cash
    opening_balance: "1000"
parties:
  - name: CustomerX
    kind: customer
    phone: "555-0101"
  - name: SupplierY
    kind: supplier
    opening_balance: "-20.50"
inventory:
  - name: Widget
    unit: pcs
    opening_quantity: "50"
    default_price: "20"
transactions:
  - kind: sale
    mode: cash
    party: CustomerX
    item: Widget
    account: Main Cash
    quantity: "10"
  - kind: purchase
    mode: credit
    party: SupplierY
    item: Widget
    quantity: "5"
    price: "18.50"
    date: "2024-02-29"
`

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	fx, err := Load(path)
	require.NoError(t, err)
	require.Len(t, fx.Parties, 2)
	assert.Equal(t, "-20.50", fx.Parties[1].OpeningBalance)

	ctx := context.Background()
	svc := books.NewService(books.NewLocalStorage(), zaptest.NewLogger(t))
	res, err := Apply(ctx, svc, fx)
	require.NoError(t, err)
	assert.Equal(t, Result{Accounts: 1, Parties: 2, Items: 1, Transactions: 2}, res)

	accounts, err := svc.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, decimal.NewFromInt(1200).Equal(accounts[0].Balance), "got %s", accounts[0].Balance)

	items, err := svc.ListInventoryItems(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(45).Equal(items[0].Quantity))

	purchases, err := svc.ListTransactions(ctx, books.KindPurchase, books.TxFilter{})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "2024-02-29", purchases[0].When().Format("2006-01-02"))
}

func TestApply_UnknownReference(t *testing.T) {
	fx, err := Parse([]byte(`
parties:
  - name: CustomerX
    kind: customer
transactions:
  - kind: receive
    party: CustomerX
    account: Nowhere
    amount: "5"
`))
	require.NoError(t, err)

	svc := books.NewService(books.NewLocalStorage(), zaptest.NewLogger(t))
	res, err := Apply(context.Background(), svc, fx)
	assert.ErrorIs(t, err, books.ErrNotFound)
	assert.Equal(t, 1, res.Parties)
	assert.Zero(t, res.Transactions)
}

func TestApply_InvalidEntity(t *testing.T) {
	fx, err := Parse([]byte(`
accounts:
  - name: Vault
    kind: safe
`))
	require.NoError(t, err)

	svc := books.NewService(books.NewLocalStorage(), zaptest.NewLogger(t))
	_, err = Apply(context.Background(), svc, fx)
	assert.ErrorIs(t, err, books.ErrValidation)
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("accounts: [unclosed"))
	assert.Error(t, err)
}
