// Package seed loads opening books (accounts, parties, inventory and
// optionally some transactions) from a YAML file.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"api_books/internal/books"
)

// Fixture is the YAML document. Amounts are strings so they never pass
// through a float.
type Fixture struct {
	Accounts     []AccountFixture     `yaml:"accounts"`
	Parties      []PartyFixture       `yaml:"parties"`
	Inventory    []InventoryFixture   `yaml:"inventory"`
	Transactions []TransactionFixture `yaml:"transactions"`
}

// AccountFixture describes an account. Amounts are decimal strings.
type AccountFixture struct {
	Name           string `yaml:"name"`
	Kind           string `yaml:"kind"`
	OpeningBalance string `yaml:"opening_balance"`
}

// PartyFixture describes a customer or supplier.
type PartyFixture struct {
	Name           string `yaml:"name"`
	Kind           string `yaml:"kind"`
	Phone          string `yaml:"phone"`
	OpeningBalance string `yaml:"opening_balance"`
}

// InventoryFixture describes an inventory item; an empty unit means kg.
type InventoryFixture struct {
	Name            string `yaml:"name"`
	Unit            string `yaml:"unit"`
	OpeningQuantity string `yaml:"opening_quantity"`
	DefaultPrice    string `yaml:"default_price"`
}

// TransactionFixture refers to entities by name.
type TransactionFixture struct {
	Kind     string `yaml:"kind"`
	Mode     string `yaml:"mode"`
	Party    string `yaml:"party"`
	Item     string `yaml:"item"`
	Account  string `yaml:"account"`
	Quantity string `yaml:"quantity"`
	Price    string `yaml:"price"`
	Amount   string `yaml:"amount"`
	Date     string `yaml:"date"`
}

// Result counts what Apply created.
type Result struct {
	Accounts     int
	Parties      int
	Items        int
	Transactions int
}

// Load reads and parses a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return Parse(data)
}

// Parse parses a fixture document.
func Parse(data []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &fx, nil
}

// Apply creates every entity of fx through svc, then posts its
// transactions in file order. It stops at the first error; what was
// created before stays.
func Apply(ctx context.Context, svc *books.Service, fx *Fixture) (Result, error) {
	var (
		res      Result
		accounts = map[string]string{}
		parties  = map[string]string{}
		items    = map[string]string{}
	)

	for i, a := range fx.Accounts {
		opening, err := amount(a.OpeningBalance)
		if err != nil {
			return res, fmt.Errorf("accounts[%d]: opening_balance: %w", i, err)
		}
		acc, err := svc.CreateAccount(ctx, books.AccountInput{Name: a.Name, Kind: books.AccountKind(a.Kind), OpeningBalance: opening})
		if err != nil {
			return res, fmt.Errorf("accounts[%d] %q: %w", i, a.Name, err)
		}
		accounts[acc.Name] = acc.ID
		res.Accounts++
	}

	for i, p := range fx.Parties {
		opening, err := amount(p.OpeningBalance)
		if err != nil {
			return res, fmt.Errorf("parties[%d]: opening_balance: %w", i, err)
		}
		party, err := svc.CreateParty(ctx, books.PartyInput{Name: p.Name, Kind: books.PartyKind(p.Kind), Phone: p.Phone, OpeningBalance: opening})
		if err != nil {
			return res, fmt.Errorf("parties[%d] %q: %w", i, p.Name, err)
		}
		if _, dup := parties[party.Name]; !dup {
			parties[party.Name] = party.ID
		}
		res.Parties++
	}

	for i, it := range fx.Inventory {
		qty, err := amount(it.OpeningQuantity)
		if err != nil {
			return res, fmt.Errorf("inventory[%d]: opening_quantity: %w", i, err)
		}
		price, err := amount(it.DefaultPrice)
		if err != nil {
			return res, fmt.Errorf("inventory[%d]: default_price: %w", i, err)
		}
		item, err := svc.CreateInventoryItem(ctx, books.InventoryInput{Name: it.Name, Unit: books.Unit(it.Unit), OpeningQuantity: qty, DefaultPrice: price})
		if err != nil {
			return res, fmt.Errorf("inventory[%d] %q: %w", i, it.Name, err)
		}
		items[item.Name] = item.ID
		res.Items++
	}

	for i, t := range fx.Transactions {
		kind, err := books.ParseKind(t.Kind)
		if err != nil {
			return res, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		req, err := t.request(accounts, parties, items)
		if err != nil {
			return res, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		if _, err := svc.CreateTransaction(ctx, kind, req); err != nil {
			return res, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		res.Transactions++
	}
	return res, nil
}

func (t TransactionFixture) request(accounts, parties, items map[string]string) (books.TransactionRequest, error) {
	req := books.TransactionRequest{PaymentMode: books.PaymentMode(t.Mode)}

	var err error
	if req.PartyID, err = lookup(parties, "party", t.Party); err != nil {
		return req, err
	}
	if req.AccountID, err = lookup(accounts, "account", t.Account); err != nil {
		return req, err
	}
	if req.InventoryID, err = lookup(items, "item", t.Item); err != nil {
		return req, err
	}
	if req.Quantity, err = amount(t.Quantity); err != nil {
		return req, fmt.Errorf("quantity: %w", err)
	}
	if req.Amount, err = amount(t.Amount); err != nil {
		return req, fmt.Errorf("amount: %w", err)
	}
	if t.Price != "" {
		p, err := decimal.NewFromString(t.Price)
		if err != nil {
			return req, fmt.Errorf("price: %w", err)
		}
		req.UnitPrice = &p
	}
	if t.Date != "" {
		d, err := time.Parse(time.DateOnly, t.Date)
		if err != nil {
			return req, fmt.Errorf("date: %w", err)
		}
		req.Date = &d
	}
	return req, nil
}

func lookup(ids map[string]string, entity, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	id, ok := ids[name]
	if !ok {
		return "", fmt.Errorf("%s %q is not defined in the fixture: %w", entity, name, books.ErrNotFound)
	}
	return id, nil
}

func amount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
