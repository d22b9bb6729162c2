package cmd

import (
	"bytes"
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
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func sqliteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BOOKS_STORAGE_DRIVER", "sqlite")
	t.Setenv("BOOKS_STORAGE_PATH", filepath.Join(t.TempDir(), "books.db"))
	t.Setenv("BOOKS_LOG_LEVEL", "error")
}

func TestSeedThenVerify(t *testing.T) {
	sqliteEnv(t)
	path := filepath.Join(t.TempDir(), "books.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	out, err := runCLI(t, "seed", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "created 1 accounts, 1 parties, 1 items, posted 1 transactions")

	out, err = runCLI(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "books are consistent")
}

func TestSeed_RequiresFile(t *testing.T) {
	sqliteEnv(t)
	_, err := runCLI(t, "seed", "-f", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixture file required")
}

func TestSeed_RefusesMemoryStorage(t *testing.T) {
	t.Setenv("BOOKS_STORAGE_DRIVER", "memory")
	t.Setenv("BOOKS_LOG_LEVEL", "error")
	_, err := runCLI(t, "seed", "-f", "books.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no lasting effect")
}

func TestLedger_UnknownAccount(t *testing.T) {
	sqliteEnv(t)
	_, err := runCLI(t, "ledger", "account", "missing")
	require.ErrorIs(t, err, books.ErrNotFound)
}

func TestPrintLedgers(t *testing.T) {
	ctx := context.Background()
	svc := books.NewService(books.NewLocalStorage(), zaptest.NewLogger(t))

	cash, err := svc.CreateAccount(ctx, books.AccountInput{Name: "Main Cash", Kind: books.AccountCash, OpeningBalance: decimal.RequireFromString("1000")})
	require.NoError(t, err)
	customer, err := svc.CreateParty(ctx, books.PartyInput{Name: "CustomerX", Kind: books.PartyCustomer})
	require.NoError(t, err)
	item, err := svc.CreateInventoryItem(ctx, books.InventoryInput{Name: "Widget", Unit: books.UnitCount, OpeningQuantity: decimal.RequireFromString("50"), DefaultPrice: decimal.RequireFromString("20")})
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, books.KindSale, books.TransactionRequest{
		PaymentMode: books.ModeCash,
		PartyID:     customer.ID,
		InventoryID: item.ID,
		AccountID:   cash.ID,
		Quantity:    decimal.RequireFromString("10"),
	})
	require.NoError(t, err)

	t.Run("account", func(t *testing.T) {
		l, err := svc.GetAccountLedger(ctx, cash.ID)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, printAccountLedger(&buf, l))
		assert.Contains(t, buf.String(), "SALE")
		assert.Contains(t, buf.String(), "CustomerX")
		assert.Contains(t, buf.String(), "closing 1200.00")
	})

	t.Run("party", func(t *testing.T) {
		l, err := svc.GetPartyLedger(ctx, customer.ID)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, printPartyLedger(&buf, l))
		assert.Contains(t, buf.String(), "Widget")
		assert.Contains(t, buf.String(), "closing 0.00", "cash sales leave the party balance alone")
	})

	t.Run("stock", func(t *testing.T) {
		l, err := svc.GetStockLedger(ctx, item.ID)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, printStockLedger(&buf, l))
		assert.Contains(t, buf.String(), "opening 50.00")
		assert.Contains(t, buf.String(), "in stock 40.00")
	})
}

func TestPrintDiscrepancies(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printDiscrepancies(&buf, []books.Discrepancy{{
		Entity:   "account",
		ID:       "a1",
		Name:     "Main Cash",
		Cached:   decimal.RequireFromString("10"),
		Replayed: decimal.RequireFromString("12.5"),
	}}))
	assert.Contains(t, buf.String(), "Main Cash")
	assert.Contains(t, buf.String(), "12.50")
}
