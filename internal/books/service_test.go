package books

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestNewService checks the service wiring.
func TestNewService(t *testing.T) {
	svc := NewService(NewLocalStorage(), zaptest.NewLogger(t))

	require.NotNil(t, svc)
	assert.NotNil(t, svc.storage, "Service storage was not initialized")
	assert.NotNil(t, svc.logger, "Service logger was not initialized")
	assert.NotNil(t, svc.engine, "Service engine was not initialized")
}

func TestNewService_NilLogger(t *testing.T) {
	svc := NewService(NewLocalStorage(), nil)
	assert.NotNil(t, svc.logger)
}

type serviceFixture struct {
	svc      *Service
	cash     *Account
	customer *Party
	supplier *Party
	widget   *InventoryItem
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()
	clock := t0
	svc := NewService(NewLocalStorage(), zaptest.NewLogger(t), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	f := &serviceFixture{svc: svc}
	var err error
	f.cash, err = svc.CreateAccount(ctx, AccountInput{Name: "Main Cash", Kind: AccountCash, OpeningBalance: dec("1000")})
	require.NoError(t, err)
	f.customer, err = svc.CreateParty(ctx, PartyInput{Name: "CustomerX", Kind: PartyCustomer, Phone: " 555-0101 "})
	require.NoError(t, err)
	f.supplier, err = svc.CreateParty(ctx, PartyInput{Name: "SupplierY", Kind: PartySupplier, OpeningBalance: dec("-30")})
	require.NoError(t, err)
	f.widget, err = svc.CreateInventoryItem(ctx, InventoryInput{Name: "Widget", Unit: UnitCount, OpeningQuantity: dec("50"), DefaultPrice: dec("20")})
	require.NoError(t, err)
	return f
}

func TestService_CreateEntities(t *testing.T) {
	f := newServiceFixture(t)

	assert.NotEmpty(t, f.cash.ID)
	assert.True(t, dec("1000").Equal(f.cash.Balance), "balance starts at the opening balance")
	assert.Equal(t, "555-0101", f.customer.Phone)
	assert.True(t, dec("-30").Equal(f.supplier.CreditBalance))
	assert.True(t, dec("50").Equal(f.widget.Quantity))
	assert.True(t, t0.Add(4*time.Second).Equal(f.widget.CreatedAt))

	accounts, err := f.svc.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	parties, err := f.svc.ListParties(context.Background())
	require.NoError(t, err)
	require.Len(t, parties, 2)
	assert.Equal(t, "CustomerX", parties[0].Name, "listed in creation order")
}

func TestService_CreateEntityValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAccount(ctx, AccountInput{Name: "  ", Kind: AccountCash})
	rule, _ := RuleOf(err)
	assert.Equal(t, RuleInvalidName, rule)

	_, err = f.svc.CreateAccount(ctx, AccountInput{Name: "Vault", Kind: "safe"})
	rule, _ = RuleOf(err)
	assert.Equal(t, RuleInvalidKind, rule)

	_, err = f.svc.CreateAccount(ctx, AccountInput{Name: "Main Cash", Kind: AccountBank})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = f.svc.CreateParty(ctx, PartyInput{Name: "Bob", Kind: "friend"})
	rule, _ = RuleOf(err)
	assert.Equal(t, RuleInvalidKind, rule)

	_, err = f.svc.CreateInventoryItem(ctx, InventoryInput{Name: "Gadget", OpeningQuantity: dec("-1")})
	rule, _ = RuleOf(err)
	assert.Equal(t, RuleInvalidQuantity, rule)

	_, err = f.svc.CreateInventoryItem(ctx, InventoryInput{Name: "Widget"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	gadget, err := f.svc.CreateInventoryItem(ctx, InventoryInput{Name: "Gadget"})
	require.NoError(t, err)
	assert.Equal(t, UnitWeight, gadget.Unit, "unit defaults to kg")
}

func TestService_UpdateEntities(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	name := "Front Till"
	acc, err := f.svc.UpdateAccount(ctx, f.cash.ID, AccountUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Front Till", acc.Name)
	assert.True(t, dec("1000").Equal(acc.Balance))

	phone := "555-0199"
	p, err := f.svc.UpdateParty(ctx, f.customer.ID, PartyUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "555-0199", p.Phone)
	assert.Equal(t, "CustomerX", p.Name)

	price := dec("22.5")
	it, err := f.svc.UpdateInventoryItem(ctx, f.widget.ID, InventoryUpdate{DefaultPrice: &price})
	require.NoError(t, err)
	assert.True(t, price.Equal(it.DefaultPrice))
	assert.True(t, dec("50").Equal(it.Quantity))

	taken := "Widget"
	other, err := f.svc.CreateInventoryItem(ctx, InventoryInput{Name: "Gadget"})
	require.NoError(t, err)
	_, err = f.svc.UpdateInventoryItem(ctx, other.ID, InventoryUpdate{Name: &taken})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = f.svc.UpdateParty(ctx, "missing", PartyUpdate{Phone: &phone})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_DeleteEntities(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, KindReceive, TransactionRequest{PartyID: f.customer.ID, AccountID: f.cash.ID, Amount: dec("10")})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, f.cash.ID), ErrReferenced)
	assert.ErrorIs(t, f.svc.DeleteParty(ctx, f.customer.ID), ErrReferenced)

	require.NoError(t, f.svc.DeleteParty(ctx, f.supplier.ID))
	require.NoError(t, f.svc.DeleteInventoryItem(ctx, f.widget.ID))
	_, err = f.svc.GetInventoryItem(ctx, f.widget.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteInventoryItem(ctx, f.widget.ID), ErrNotFound)
}

func TestService_CreateTransaction(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sale, err := f.svc.CreateTransaction(ctx, KindSale, TransactionRequest{
		PaymentMode: ModeCash, PartyID: f.customer.ID, InventoryID: f.widget.ID, AccountID: f.cash.ID,
		Quantity: dec("2.5"),
	})
	require.NoError(t, err)
	sp := sale.(*SalePurchase)
	assert.Equal(t, PurposeSale, sp.Purpose)
	assert.True(t, dec("20").Equal(sp.UnitPrice), "omitted price takes the default price")
	assert.True(t, dec("50").Equal(sp.Amount))

	zero := dec("0")
	free, err := f.svc.CreateTransaction(ctx, KindPurchase, TransactionRequest{
		PaymentMode: ModeCredit, PartyID: f.supplier.ID, InventoryID: f.widget.ID,
		Quantity: dec("1"), UnitPrice: &zero,
	})
	require.NoError(t, err)
	assert.True(t, free.(*SalePurchase).Amount.IsZero(), "an explicit zero price is kept")

	backdated := time.Date(2023, 12, 31, 18, 0, 0, 0, time.FixedZone("X", 3600))
	pay, err := f.svc.CreateTransaction(ctx, KindPay, TransactionRequest{PartyID: f.supplier.ID, AccountID: f.cash.ID, Amount: dec("30"), Date: &backdated})
	require.NoError(t, err)
	assert.Equal(t, KindPay, pay.Kind())
	assert.True(t, backdated.Equal(pay.When()))
	assert.Equal(t, time.UTC, pay.When().Location())

	_, err = f.svc.CreateTransaction(ctx, "refund", TransactionRequest{})
	rule, _ := RuleOf(err)
	assert.Equal(t, RuleInvalidKind, rule)

	sales, err := f.svc.ListTransactions(ctx, KindSale, TxFilter{})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
	purchases, err := f.svc.ListTransactions(ctx, KindPurchase, TxFilter{PartyID: f.supplier.ID})
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
	receipts, err := f.svc.ListTransactions(ctx, KindReceive, TxFilter{})
	require.NoError(t, err)
	assert.Empty(t, receipts)

	got, err := f.svc.GetTransaction(ctx, pay.TxID())
	require.NoError(t, err)
	assert.Equal(t, pay.TxID(), got.TxID())

	gotSale, err := f.svc.GetSalePurchase(ctx, sale.TxID())
	require.NoError(t, err)
	assert.True(t, dec("2.5").Equal(gotSale.Quantity))
	gotPay, err := f.svc.GetCashMovement(ctx, pay.TxID())
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(gotPay.Amount))
	_, err = f.svc.GetSalePurchase(ctx, pay.TxID())
	assert.ErrorIs(t, err, ErrNotFound, "a payment is not in the sale/purchase log")
}

func TestService_ListTransactionsFilters(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, KindSale, TransactionRequest{
		PaymentMode: ModeCredit, PartyID: f.customer.ID, InventoryID: f.widget.ID, Quantity: dec("1"),
	})
	require.NoError(t, err)

	credit, err := f.svc.ListTransactions(ctx, KindSale, TxFilter{PaymentMode: ModeCredit, InventoryID: f.widget.ID})
	require.NoError(t, err)
	assert.Len(t, credit, 1)

	_, err = f.svc.ListTransactions(ctx, KindSale, TxFilter{PaymentMode: "barter"})
	rule, _ := RuleOf(err)
	assert.Equal(t, RuleInvalidPaymentMode, rule)

	for _, kind := range []Kind{KindReceive, KindPay} {
		_, err = f.svc.ListTransactions(ctx, kind, TxFilter{PaymentMode: ModeCash})
		rule, _ = RuleOf(err)
		assert.Equal(t, RuleInvalidFilter, rule, "%s by payment mode", kind)

		_, err = f.svc.ListTransactions(ctx, kind, TxFilter{InventoryID: f.widget.ID})
		rule, _ = RuleOf(err)
		assert.Equal(t, RuleInvalidFilter, rule, "%s by inventory item", kind)
	}
}

func TestService_PostedTransactionsAreImmutable(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	posted, err := f.svc.CreateTransaction(ctx, KindReceive, TransactionRequest{PartyID: f.customer.ID, AccountID: f.cash.ID, Amount: dec("5")})
	require.NoError(t, err)

	for _, op := range []func(context.Context, string) error{f.svc.UpdateTransaction, f.svc.DeleteTransaction} {
		err := op(ctx, posted.TxID())
		rule, ok := RuleOf(err)
		require.True(t, ok)
		assert.Equal(t, RuleAlreadyPosted, rule)

		assert.ErrorIs(t, op(ctx, "missing"), ErrNotFound)
	}

	_, err = f.svc.Post(ctx, posted)
	rule, _ := RuleOf(err)
	assert.Equal(t, RuleAlreadyPosted, rule)

	acc, err := f.svc.GetAccount(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, dec("1005").Equal(acc.Balance), "only the first posting applied")
}

func TestService_LedgersAndReconcile(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, KindPurchase, TransactionRequest{
		PaymentMode: ModeCredit, PartyID: f.supplier.ID, InventoryID: f.widget.ID, Quantity: dec("4"),
	})
	require.NoError(t, err)
	_, err = f.svc.CreateTransaction(ctx, KindPay, TransactionRequest{PartyID: f.supplier.ID, AccountID: f.cash.ID, Amount: dec("50")})
	require.NoError(t, err)

	al, err := f.svc.GetAccountLedger(ctx, f.cash.ID)
	require.NoError(t, err)
	require.Len(t, al.Rows, 1)
	assert.Equal(t, "PAY", al.Rows[0].Type)
	assert.True(t, dec("50").Equal(al.Rows[0].Debit))
	assert.True(t, dec("950").Equal(al.ClosingBalance))

	pl, err := f.svc.GetPartyLedger(ctx, f.supplier.ID)
	require.NoError(t, err)
	require.Len(t, pl.Rows, 2)
	assert.True(t, dec("-110").Equal(pl.Rows[0].Balance))
	assert.True(t, dec("-60").Equal(pl.ClosingBalance))

	sl, err := f.svc.GetStockLedger(ctx, f.widget.ID)
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(sl.OpeningQuantity))

	_, err = f.svc.GetStockLedger(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	out, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}
