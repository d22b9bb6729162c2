package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"api_books/internal/books"
)

// Storage implements books.Storage on a DB.
//
// Update runs on a dedicated connection under BEGIN IMMEDIATE, so writers
// are serialized by SQLite itself and row locks need no extra bookkeeping.
// View runs a deferred transaction, which WAL turns into a snapshot.
type Storage struct {
	db *DB
}

// NewStorage returns a Storage over db.
func NewStorage(db *DB) *Storage {
	return &Storage{db: db}
}

// Close closes the underlying database.
func (s *Storage) Close() error { return s.db.Close() }

// Update runs fn as one unit of work.
func (s *Storage) Update(ctx context.Context, fn func(tx books.Tx) error) (err error) {
	conn, err := s.db.db.Conn(ctx)
	if err != nil {
		return conflictOnDone(ctx, fmt.Errorf("sqlite: acquire connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return conflictOnDone(ctx, mapErr(fmt.Errorf("sqlite: begin: %w", err)))
	}
	defer func() {
		if p := recover(); p != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
			panic(p)
		}
		if err != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	if err := fn(&writeTx{readTx: readTx{ctx: ctx, q: conn}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit aborted: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return mapErr(fmt.Errorf("sqlite: commit: %w", err))
	}
	return nil
}

// View runs fn against one read snapshot.
func (s *Storage) View(ctx context.Context, fn func(tx books.ReadTx) error) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("sqlite: begin read: %w", err))
	}
	defer tx.Rollback()
	return fn(readTx{ctx: ctx, q: tx})
}

func conflictOnDone(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, books.ErrConcurrencyConflict) {
		return fmt.Errorf("%w: %v", books.ErrConcurrencyConflict, err)
	}
	return err
}

// querier is satisfied by *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// ─── Reads ──────────────────────────────────────────────────────────────────

type readTx struct {
	ctx context.Context
	q   querier
}

const (
	accountCols   = `id, name, kind, opening_balance, balance, created_at`
	partyCols     = `id, name, kind, phone, opening_balance, credit_balance, created_at`
	itemCols      = `id, name, unit, opening_quantity, quantity, default_price, created_at`
	salePurchCols = `id, seq, purpose, payment_mode, party_id, inventory_id, account_id, quantity, unit_price, amount, date`
	movementCols  = `id, seq, type, party_id, account_id, amount, date`
)

func (r readTx) Account(id string) (*books.Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(r.ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id))
	return a, r.notFound(err, "account", id)
}

func (r readTx) Accounts() ([]*books.Account, error) {
	return queryAll(r, `SELECT `+accountCols+` FROM accounts ORDER BY created_at, id`, nil, scanAccount)
}

func (r readTx) Party(id string) (*books.Party, error) {
	p, err := scanParty(r.q.QueryRowContext(r.ctx, `SELECT `+partyCols+` FROM parties WHERE id = ?`, id))
	return p, r.notFound(err, "party", id)
}

func (r readTx) Parties() ([]*books.Party, error) {
	return queryAll(r, `SELECT `+partyCols+` FROM parties ORDER BY created_at, id`, nil, scanParty)
}

func (r readTx) InventoryItem(id string) (*books.InventoryItem, error) {
	it, err := scanItem(r.q.QueryRowContext(r.ctx, `SELECT `+itemCols+` FROM inventory_items WHERE id = ?`, id))
	return it, r.notFound(err, "inventory item", id)
}

func (r readTx) InventoryItems() ([]*books.InventoryItem, error) {
	return queryAll(r, `SELECT `+itemCols+` FROM inventory_items ORDER BY created_at, id`, nil, scanItem)
}

func (r readTx) SalePurchase(id string) (*books.SalePurchase, error) {
	sp, err := scanSalePurchase(r.q.QueryRowContext(r.ctx, `SELECT `+salePurchCols+` FROM sale_purchases WHERE id = ?`, id))
	return sp, r.notFound(err, "transaction", id)
}

func (r readTx) CashMovement(id string) (*books.CashMovement, error) {
	cm, err := scanMovement(r.q.QueryRowContext(r.ctx, `SELECT `+movementCols+` FROM cash_movements WHERE id = ?`, id))
	return cm, r.notFound(err, "transaction", id)
}

func (r readTx) SalePurchases(f books.TxFilter) ([]*books.SalePurchase, error) {
	if f.Type != "" {
		return []*books.SalePurchase{}, nil
	}
	var w where
	w.eq("account_id", f.AccountID)
	w.eq("party_id", f.PartyID)
	w.eq("inventory_id", f.InventoryID)
	w.eq("purpose", string(f.Purpose))
	w.eq("payment_mode", string(f.PaymentMode))
	return queryAll(r, `SELECT `+salePurchCols+` FROM sale_purchases`+w.sql()+` ORDER BY seq`, w.args, scanSalePurchase)
}

func (r readTx) CashMovements(f books.TxFilter) ([]*books.CashMovement, error) {
	if f.InventoryID != "" || f.Purpose != "" || f.PaymentMode != "" {
		return []*books.CashMovement{}, nil
	}
	var w where
	w.eq("account_id", f.AccountID)
	w.eq("party_id", f.PartyID)
	w.eq("type", string(f.Type))
	return queryAll(r, `SELECT `+movementCols+` FROM cash_movements`+w.sql()+` ORDER BY seq`, w.args, scanMovement)
}

func (r readTx) notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", entity, id, books.ErrNotFound)
	}
	return mapErr(err)
}

func queryAll[T any](r readTx, query string, args []any, scan func(scanner) (*T, error)) ([]*T, error) {
	rows, err := r.q.QueryContext(r.ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]*T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, mapErr(rows.Err())
}

// where accumulates equality conditions, skipping empty values.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(col, v string) {
	if v == "" {
		return
	}
	w.conds = append(w.conds, col+" = ?")
	w.args = append(w.args, v)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// ─── Writes ─────────────────────────────────────────────────────────────────

type writeTx struct {
	readTx
	locked bool
}

// Lock only checks usage: BEGIN IMMEDIATE already holds the write lock.
func (w *writeTx) Lock(keys ...books.EntityKey) error {
	if w.locked {
		return errors.New("row locks already taken in this unit of work")
	}
	w.locked = true
	return nil
}

func (w *writeTx) exec(query string, args ...any) error {
	_, err := w.q.ExecContext(w.ctx, query, args...)
	return mapErr(err)
}

func (w *writeTx) PutAccount(a *books.Account) error {
	if a.ID == "" {
		return books.ErrEmptyID
	}
	return w.exec(`INSERT INTO accounts (`+accountCols+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind,
			opening_balance = excluded.opening_balance, balance = excluded.balance`,
		a.ID, a.Name, string(a.Kind), a.OpeningBalance, a.Balance, formatTime(a.CreatedAt))
}

func (w *writeTx) DeleteAccount(id string) error {
	return w.exec(`DELETE FROM accounts WHERE id = ?`, id)
}

func (w *writeTx) PutParty(p *books.Party) error {
	if p.ID == "" {
		return books.ErrEmptyID
	}
	return w.exec(`INSERT INTO parties (`+partyCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind, phone = excluded.phone,
			opening_balance = excluded.opening_balance, credit_balance = excluded.credit_balance`,
		p.ID, p.Name, string(p.Kind), p.Phone, p.OpeningBalance, p.CreditBalance, formatTime(p.CreatedAt))
}

func (w *writeTx) DeleteParty(id string) error {
	return w.exec(`DELETE FROM parties WHERE id = ?`, id)
}

func (w *writeTx) PutInventoryItem(it *books.InventoryItem) error {
	if it.ID == "" {
		return books.ErrEmptyID
	}
	return w.exec(`INSERT INTO inventory_items (`+itemCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, unit = excluded.unit,
			opening_quantity = excluded.opening_quantity, quantity = excluded.quantity,
			default_price = excluded.default_price`,
		it.ID, it.Name, string(it.Unit), it.OpeningQuantity, it.Quantity, it.DefaultPrice, formatTime(it.CreatedAt))
}

func (w *writeTx) DeleteInventoryItem(id string) error {
	return w.exec(`DELETE FROM inventory_items WHERE id = ?`, id)
}

func (w *writeTx) NextSeq() (int64, error) {
	var n int64
	err := w.q.QueryRowContext(w.ctx, `UPDATE sequences SET value = value + 1 WHERE name = 'log' RETURNING value`).Scan(&n)
	return n, mapErr(err)
}

func (w *writeTx) AppendSalePurchase(sp *books.SalePurchase) error {
	if sp.ID == "" {
		return books.ErrEmptyID
	}
	if err := w.ensureNew("sale_purchases", sp.ID); err != nil {
		return err
	}
	return w.exec(`INSERT INTO sale_purchases (`+salePurchCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Seq, string(sp.Purpose), string(sp.PaymentMode), sp.PartyID, sp.InventoryID, nullString(sp.AccountID),
		sp.Quantity, sp.UnitPrice, sp.Amount, formatTime(sp.Date))
}

func (w *writeTx) AppendCashMovement(cm *books.CashMovement) error {
	if cm.ID == "" {
		return books.ErrEmptyID
	}
	if err := w.ensureNew("cash_movements", cm.ID); err != nil {
		return err
	}
	return w.exec(`INSERT INTO cash_movements (`+movementCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cm.ID, cm.Seq, string(cm.Type), cm.PartyID, cm.AccountID, cm.Amount, formatTime(cm.Date))
}

func (w *writeTx) ensureNew(table, id string) error {
	var n int
	if err := w.q.QueryRowContext(w.ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&n); err != nil {
		return mapErr(err)
	}
	if n > 0 {
		return &books.ValidationError{Rule: books.RuleAlreadyPosted, Message: fmt.Sprintf("transaction %s is already posted", id)}
	}
	return nil
}

// ─── Scanning ───────────────────────────────────────────────────────────────

func scanAccount(s scanner) (*books.Account, error) {
	var (
		a       books.Account
		created string
	)
	if err := s.Scan(&a.ID, &a.Name, &a.Kind, &a.OpeningBalance, &a.Balance, &created); err != nil {
		return nil, err
	}
	var err error
	a.CreatedAt, err = parseTime(created)
	return &a, err
}

func scanParty(s scanner) (*books.Party, error) {
	var (
		p       books.Party
		created string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Kind, &p.Phone, &p.OpeningBalance, &p.CreditBalance, &created); err != nil {
		return nil, err
	}
	var err error
	p.CreatedAt, err = parseTime(created)
	return &p, err
}

func scanItem(s scanner) (*books.InventoryItem, error) {
	var (
		it      books.InventoryItem
		created string
	)
	if err := s.Scan(&it.ID, &it.Name, &it.Unit, &it.OpeningQuantity, &it.Quantity, &it.DefaultPrice, &created); err != nil {
		return nil, err
	}
	var err error
	it.CreatedAt, err = parseTime(created)
	return &it, err
}

func scanSalePurchase(s scanner) (*books.SalePurchase, error) {
	var (
		sp      books.SalePurchase
		account sql.NullString
		date    string
	)
	if err := s.Scan(&sp.ID, &sp.Seq, &sp.Purpose, &sp.PaymentMode, &sp.PartyID, &sp.InventoryID, &account,
		&sp.Quantity, &sp.UnitPrice, &sp.Amount, &date); err != nil {
		return nil, err
	}
	sp.AccountID = account.String
	var err error
	sp.Date, err = parseTime(date)
	return &sp, err
}

func scanMovement(s scanner) (*books.CashMovement, error) {
	var (
		cm   books.CashMovement
		date string
	)
	if err := s.Scan(&cm.ID, &cm.Seq, &cm.Type, &cm.PartyID, &cm.AccountID, &cm.Amount, &date); err != nil {
		return nil, err
	}
	var err error
	cm.Date, err = parseTime(date)
	return &cm, err
}

var _ books.Storage = (*Storage)(nil)
