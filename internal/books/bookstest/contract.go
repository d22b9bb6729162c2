// Package bookstest holds the behaviour every books.Storage backend must
// share, as a test suite each backend runs against itself.
package bookstest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"api_books/internal/books"
)

// Factory returns a fresh, empty storage. The suite closes it.
type Factory func(t *testing.T) books.Storage

// RunStorageContract runs the shared storage suite against newStorage.
func RunStorageContract(t *testing.T, newStorage Factory) {
	t.Run("EntityRoundTrip", func(t *testing.T) { testEntityRoundTrip(t, newStorage(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStorage(t)) })
	t.Run("RollbackOnPanic", func(t *testing.T) { testRollbackOnPanic(t, newStorage(t)) })
	t.Run("StagedReadsInsideUpdate", func(t *testing.T) { testStagedReads(t, newStorage(t)) })
	t.Run("DuplicateName", func(t *testing.T) { testDuplicateName(t, newStorage(t)) })
	t.Run("LogOrderAndFilters", func(t *testing.T) { testLogOrderAndFilters(t, newStorage(t)) })
	t.Run("DuplicateAppend", func(t *testing.T) { testDuplicateAppend(t, newStorage(t)) })
	t.Run("PostingScenario", func(t *testing.T) { testPostingScenario(t, newStorage(t)) })
	t.Run("ConcurrentPostings", func(t *testing.T) { testConcurrentPostings(t, newStorage(t)) })
}

var day = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func closeAfter(t *testing.T, s books.Storage) {
	t.Cleanup(func() { _ = s.Close() })
}

func testEntityRoundTrip(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()

	acc := &books.Account{ID: "acc-1", Name: "Main Cash", Kind: books.AccountCash, OpeningBalance: d("1000"), Balance: d("1000.50"), CreatedAt: day}
	party := &books.Party{ID: "p-1", Name: "CustomerX", Kind: books.PartyCustomer, Phone: "555", OpeningBalance: d("0"), CreditBalance: d("-12.25"), CreatedAt: day}
	item := &books.InventoryItem{ID: "i-1", Name: "Widget", Unit: books.UnitCount, OpeningQuantity: d("50"), Quantity: d("49.5"), DefaultPrice: d("20"), CreatedAt: day}

	require.NoError(t, s.Update(ctx, func(tx books.Tx) error {
		if err := tx.PutAccount(acc); err != nil {
			return err
		}
		if err := tx.PutParty(party); err != nil {
			return err
		}
		return tx.PutInventoryItem(item)
	}))

	require.NoError(t, s.View(ctx, func(tx books.ReadTx) error {
		a, err := tx.Account("acc-1")
		require.NoError(t, err)
		assert.Equal(t, "Main Cash", a.Name)
		assert.True(t, d("1000.50").Equal(a.Balance), "balance survives storage, got %s", a.Balance)
		assert.True(t, a.CreatedAt.Equal(day))

		p, err := tx.Party("p-1")
		require.NoError(t, err)
		assert.Equal(t, books.PartyCustomer, p.Kind)
		assert.True(t, d("-12.25").Equal(p.CreditBalance))

		it, err := tx.InventoryItem("i-1")
		require.NoError(t, err)
		assert.Equal(t, books.UnitCount, it.Unit)
		assert.True(t, d("49.5").Equal(it.Quantity))

		_, err = tx.Account("missing")
		assert.ErrorIs(t, err, books.ErrNotFound)
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx books.Tx) error { return tx.DeleteParty("p-1") }))
	require.NoError(t, s.View(ctx, func(tx books.ReadTx) error {
		_, err := tx.Party("p-1")
		assert.ErrorIs(t, err, books.ErrNotFound)
		parties, err := tx.Parties()
		require.NoError(t, err)
		assert.Empty(t, parties)
		return nil
	}))
}

func testRollbackOnPanic(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()
	key := books.EntityKey{Type: books.EntityAccount, ID: "acc-1"}

	assert.PanicsWithValue(t, "boom", func() {
		_ = s.Update(ctx, func(tx books.Tx) error {
			if err := tx.Lock(key); err != nil {
				return err
			}
			if err := tx.PutAccount(&books.Account{ID: "acc-1", Name: "Till", Kind: books.AccountCash, CreatedAt: day}); err != nil {
				return err
			}
			panic("boom")
		})
	})

	require.NoError(t, s.View(ctx, func(tx books.ReadTx) error {
		_, err := tx.Account("acc-1")
		assert.ErrorIs(t, err, books.ErrNotFound, "writes of a panicking unit of work must not be visible")
		return nil
	}))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Update(ctx, func(tx books.Tx) error {
		if err := tx.Lock(key); err != nil {
			return err
		}
		return tx.PutAccount(&books.Account{ID: "acc-1", Name: "Till", Kind: books.AccountCash, CreatedAt: day})
	}), "the next writer is not blocked by the panicked one")
}

func testRollbackOnError(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx books.Tx) error {
		if err := tx.PutAccount(&books.Account{ID: "acc-1", Name: "Till", Kind: books.AccountCash, CreatedAt: day}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx books.ReadTx) error {
		_, err := tx.Account("acc-1")
		assert.ErrorIs(t, err, books.ErrNotFound, "writes of a failed unit of work must not be visible")
		return nil
	}))
}

func testStagedReads(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx books.Tx) error {
		require.NoError(t, tx.PutAccount(&books.Account{ID: "acc-1", Name: "Till", Kind: books.AccountCash, Balance: d("5"), CreatedAt: day}))
		a, err := tx.Account("acc-1")
		require.NoError(t, err)
		assert.True(t, d("5").Equal(a.Balance))

		all, err := tx.Accounts()
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return nil
	}))
}

func testDuplicateName(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()

	put := func(id string) error {
		return s.Update(ctx, func(tx books.Tx) error {
			return tx.PutAccount(&books.Account{ID: id, Name: "Main Cash", Kind: books.AccountCash, CreatedAt: day})
		})
	}
	require.NoError(t, put("acc-1"))
	assert.ErrorIs(t, put("acc-2"), books.ErrDuplicateName)

	putItem := func(id string) error {
		return s.Update(ctx, func(tx books.Tx) error {
			return tx.PutInventoryItem(&books.InventoryItem{ID: id, Name: "Widget", Unit: books.UnitWeight, CreatedAt: day})
		})
	}
	require.NoError(t, putItem("i-1"))
	assert.ErrorIs(t, putItem("i-2"), books.ErrDuplicateName)
}

func seedRefs(t *testing.T, s books.Storage) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(tx books.Tx) error {
		if err := tx.PutAccount(&books.Account{ID: "acc-1", Name: "Till", Kind: books.AccountCash, CreatedAt: day}); err != nil {
			return err
		}
		if err := tx.PutParty(&books.Party{ID: "p-1", Name: "CustomerX", Kind: books.PartyCustomer, CreatedAt: day}); err != nil {
			return err
		}
		return tx.PutInventoryItem(&books.InventoryItem{ID: "i-1", Name: "Widget", Unit: books.UnitCount, CreatedAt: day})
	}))
}

func testLogOrderAndFilters(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()
	seedRefs(t, s)

	require.NoError(t, s.Update(ctx, func(tx books.Tx) error {
		for i, id := range []string{"sp-b", "sp-a"} {
			seq, err := tx.NextSeq()
			if err != nil {
				return err
			}
			mode, acc := books.ModeCredit, ""
			if i == 0 {
				mode, acc = books.ModeCash, "acc-1"
			}
			if err := tx.AppendSalePurchase(&books.SalePurchase{
				ID: id, Seq: seq, Purpose: books.PurposeSale, PaymentMode: mode,
				PartyID: "p-1", InventoryID: "i-1", AccountID: acc,
				Quantity: d("1"), UnitPrice: d("2.5"), Amount: d("2.5"), Date: day,
			}); err != nil {
				return err
			}
		}
		seq, err := tx.NextSeq()
		if err != nil {
			return err
		}
		return tx.AppendCashMovement(&books.CashMovement{ID: "cm-1", Seq: seq, Type: books.MovementReceive, PartyID: "p-1", AccountID: "acc-1", Amount: d("3"), Date: day})
	}))

	require.NoError(t, s.View(ctx, func(tx books.ReadTx) error {
		all, err := tx.SalePurchases(books.TxFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "sp-b", all[0].ID, "records come back in sequence order")
		assert.Less(t, all[0].Seq, all[1].Seq)
		assert.True(t, d("2.5").Equal(all[0].Amount))
		assert.True(t, all[0].Date.Equal(day))

		cash, err := tx.SalePurchases(books.TxFilter{AccountID: "acc-1", PaymentMode: books.ModeCash})
		require.NoError(t, err)
		require.Len(t, cash, 1)
		assert.Equal(t, "sp-b", cash[0].ID)

		moves, err := tx.CashMovements(books.TxFilter{PartyID: "p-1"})
		require.NoError(t, err)
		require.Len(t, moves, 1)
		assert.Greater(t, moves[0].Seq, all[1].Seq)

		none, err := tx.CashMovements(books.TxFilter{InventoryID: "i-1"})
		require.NoError(t, err)
		assert.Empty(t, none, "movements never match an inventory filter")

		sp, err := tx.SalePurchase("sp-a")
		require.NoError(t, err)
		assert.Equal(t, books.ModeCredit, sp.PaymentMode)
		assert.Empty(t, sp.AccountID)

		_, err = tx.CashMovement("sp-a")
		assert.ErrorIs(t, err, books.ErrNotFound)
		return nil
	}))
}

func testDuplicateAppend(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()
	seedRefs(t, s)

	appendOnce := func() error {
		return s.Update(ctx, func(tx books.Tx) error {
			seq, err := tx.NextSeq()
			if err != nil {
				return err
			}
			return tx.AppendCashMovement(&books.CashMovement{ID: "cm-1", Seq: seq, Type: books.MovementReceive, PartyID: "p-1", AccountID: "acc-1", Amount: d("1"), Date: day})
		})
	}
	require.NoError(t, appendOnce())

	err := appendOnce()
	rule, ok := books.RuleOf(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	assert.Equal(t, books.RuleAlreadyPosted, rule)
}

func testPostingScenario(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()
	svc := books.NewService(s, zaptest.NewLogger(t))

	cash, err := svc.CreateAccount(ctx, books.AccountInput{Name: "Main Cash", Kind: books.AccountCash, OpeningBalance: d("1000")})
	require.NoError(t, err)
	customer, err := svc.CreateParty(ctx, books.PartyInput{Name: "CustomerX", Kind: books.PartyCustomer})
	require.NoError(t, err)
	supplier, err := svc.CreateParty(ctx, books.PartyInput{Name: "SupplierY", Kind: books.PartySupplier})
	require.NoError(t, err)
	widget, err := svc.CreateInventoryItem(ctx, books.InventoryInput{Name: "Widget", Unit: books.UnitCount, OpeningQuantity: d("50"), DefaultPrice: d("20")})
	require.NoError(t, err)

	price := d("20")
	_, err = svc.CreateTransaction(ctx, books.KindSale, books.TransactionRequest{
		PaymentMode: books.ModeCash, PartyID: customer.ID, InventoryID: widget.ID, AccountID: cash.ID,
		Quantity: d("10"), UnitPrice: &price,
	})
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, books.KindPurchase, books.TransactionRequest{
		PaymentMode: books.ModeCredit, PartyID: supplier.ID, InventoryID: widget.ID,
		Quantity: d("5"), UnitPrice: &price,
	})
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, books.KindReceive, books.TransactionRequest{PartyID: customer.ID, AccountID: cash.ID, Amount: d("150")})
	require.NoError(t, err)

	acc, err := svc.GetAccount(ctx, cash.ID)
	require.NoError(t, err)
	assert.True(t, d("1350").Equal(acc.Balance), "got %s", acc.Balance)

	item, err := svc.GetInventoryItem(ctx, widget.ID)
	require.NoError(t, err)
	assert.True(t, d("45").Equal(item.Quantity), "got %s", item.Quantity)

	sup, err := svc.GetParty(ctx, supplier.ID)
	require.NoError(t, err)
	assert.True(t, d("-100").Equal(sup.CreditBalance), "got %s", sup.CreditBalance)

	stock, err := svc.GetStockLedger(ctx, widget.ID)
	require.NoError(t, err)
	require.Len(t, stock.Rows, 2)
	assert.True(t, d("50").Equal(stock.Rows[0].StockBefore))
	assert.True(t, d("40").Equal(stock.Rows[1].StockBefore))
	assert.True(t, d("50").Equal(stock.OpeningQuantity))

	out, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func testConcurrentPostings(t *testing.T, s books.Storage) {
	closeAfter(t, s)
	ctx := context.Background()
	svc := books.NewService(s, zaptest.NewLogger(t))

	cash, err := svc.CreateAccount(ctx, books.AccountInput{Name: "Main Cash", Kind: books.AccountCash})
	require.NoError(t, err)
	customer, err := svc.CreateParty(ctx, books.PartyInput{Name: "CustomerX", Kind: books.PartyCustomer})
	require.NoError(t, err)
	widget, err := svc.CreateInventoryItem(ctx, books.InventoryInput{Name: "Widget", OpeningQuantity: d("100"), DefaultPrice: d("1.25")})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- retryOnConflict(func() error {
				_, err := svc.CreateTransaction(ctx, books.KindSale, books.TransactionRequest{
					PaymentMode: books.ModeCash, PartyID: customer.ID, InventoryID: widget.ID, AccountID: cash.ID,
					Quantity: d("1"),
				})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	acc, err := svc.GetAccount(ctx, cash.ID)
	require.NoError(t, err)
	assert.True(t, d("25").Equal(acc.Balance), "no lost updates, got %s", acc.Balance)

	item, err := svc.GetInventoryItem(ctx, widget.ID)
	require.NoError(t, err)
	assert.True(t, d("80").Equal(item.Quantity), "got %s", item.Quantity)

	ledger, err := svc.GetAccountLedger(ctx, cash.ID)
	require.NoError(t, err)
	assert.Len(t, ledger.Rows, workers)
	assert.True(t, ledger.ClosingBalance.Equal(acc.Balance))
}

// retryOnConflict retries fn while it reports a concurrency conflict, the
// way a caller is expected to.
func retryOnConflict(fn func() error) error {
	var err error
	for range 50 {
		if err = fn(); !errors.Is(err, books.ErrConcurrencyConflict) {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	return err
}
