package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"kiosque/register/internal/domain"
	"kiosque/register/internal/remote"
)

// Store is an in-memory remote store used for dev mode and tests. It honors
// the same atomicity and idempotency contract as the postgres store, and can
// inject commit failures and unavailability to exercise the offline paths.
type Store struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	promotions  map[string]domain.Promotion
	ordersByID  map[string]domain.SaleRecord
	orderSeq    int
	commitErr   error
	unavailable bool
}

func New() *Store {
	return &Store{
		products:   map[string]domain.Product{},
		promotions: map[string]domain.Promotion{},
		ordersByID: map[string]domain.SaleRecord{},
	}
}

// NewSeeded returns a store stocked with a small Conakry corner-shop catalog
// and one store-wide promotion, enough to run a register in dev mode.
func NewSeeded() *Store {
	s := New()

	for _, p := range []domain.Product{
		{ID: "PRD-RIZ-01", Name: "Riz local 1kg", Category: "grocery", UnitPrice: decimal.NewFromInt(1000), Currency: "GNF", StockQuantity: 5, Active: true},
		{ID: "PRD-HUILE-01", Name: "Huile de palme 1L", Category: "grocery", UnitPrice: decimal.NewFromInt(15000), Currency: "GNF", StockQuantity: 12, Active: true},
		{ID: "PRD-SUCRE-01", Name: "Sucre 1kg", Category: "grocery", UnitPrice: decimal.NewFromInt(12500), Currency: "GNF", StockQuantity: 30, Active: true},
		{ID: "PRD-EAU-01", Name: "Eau minérale 1.5L", Category: "beverage", UnitPrice: decimal.NewFromInt(5000), Currency: "GNF", StockQuantity: 48, Active: true},
		{ID: "PRD-BISCUIT-01", Name: "Biscuits secs", Category: "snack", UnitPrice: decimal.NewFromInt(3500), Currency: "GNF", StockQuantity: 24, Active: true},
		{ID: "PRD-SAVON-01", Name: "Savon de ménage", Category: "household", UnitPrice: decimal.NewFromInt(7000), Currency: "GNF", StockQuantity: 18, Active: true},
		{ID: "PRD-ARCHIVE-01", Name: "Ancien article", Category: "grocery", UnitPrice: decimal.NewFromInt(900), Currency: "GNF", StockQuantity: 3, Active: false},
	} {
		s.products[p.ID] = p
	}

	s.promotions["PROMO-DIX-01"] = domain.Promotion{
		ID:            "PROMO-DIX-01",
		Name:          "10% dès 2000 GNF",
		Kind:          domain.PromotionPercentage,
		Value:         decimal.NewFromInt(10),
		MinimumAmount: decimal.NewFromInt(2000),
		Active:        true,
	}

	return s
}

func (s *Store) SeedProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) SeedPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions[p.ID] = p
}

// SetStock overwrites the authoritative stock count for a product.
func (s *Store) SetStock(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.StockQuantity = qty
		s.products[productID] = p
	}
}

// StockOf reads the authoritative stock count, -1 when unknown.
func (s *Store) StockOf(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return -1
	}
	return p.StockQuantity
}

// FailCommits makes every subsequent CommitSale fail with err until called
// again with nil.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// SetUnavailable simulates a severed link: every call fails with
// remote.ErrUnavailable.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// Orders returns committed sales in commit order.
func (s *Store) Orders() []domain.SaleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.SaleRecord, 0, len(s.ordersByID))
	for _, rec := range s.ordersByID {
		orders = append(orders, rec)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].RemoteRef < orders[j].RemoteRef })
	return orders
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.unavailable {
		return nil, remote.ErrUnavailable
	}

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Category != products[j].Category {
			return products[i].Category < products[j].Category
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) ListPromotions(_ context.Context) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.unavailable {
		return nil, remote.ErrUnavailable
	}

	promos := make([]domain.Promotion, 0, len(s.promotions))
	for _, p := range s.promotions {
		if !p.Active {
			continue
		}
		promos = append(promos, p)
	}
	sort.Slice(promos, func(i, j int) bool { return promos[i].ID < promos[j].ID })
	return promos, nil
}

func (s *Store) CommitSale(_ context.Context, record domain.SaleRecord) (remote.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return remote.CommitResult{}, remote.ErrUnavailable
	}
	if s.commitErr != nil {
		return remote.CommitResult{}, s.commitErr
	}
	if record.ID == "" || len(record.Items) == 0 {
		return remote.CommitResult{}, remote.ErrInvalidSale
	}

	if existing, ok := s.ordersByID[record.ID]; ok {
		return remote.CommitResult{OrderRef: existing.RemoteRef, Duplicate: true}, nil
	}

	// All-or-nothing: validate every line before touching any stock count.
	for _, item := range record.Items {
		p, ok := s.products[item.ProductID]
		if !ok {
			return remote.CommitResult{}, fmt.Errorf("%w: product %s", remote.ErrNotFound, item.ProductID)
		}
		if item.Quantity < 1 {
			return remote.CommitResult{}, remote.ErrInvalidSale
		}
		if p.StockQuantity < item.Quantity {
			return remote.CommitResult{}, fmt.Errorf("%w: product %s", remote.ErrInsufficientStock, item.ProductID)
		}
	}

	for _, item := range record.Items {
		p := s.products[item.ProductID]
		p.StockQuantity -= item.Quantity
		s.products[item.ProductID] = p
	}

	s.orderSeq++
	record.RemoteRef = fmt.Sprintf("ord-%06d", s.orderSeq)
	record.Status = domain.SaleStatusSynced
	s.ordersByID[record.ID] = record

	return remote.CommitResult{OrderRef: record.RemoteRef}, nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return remote.ErrUnavailable
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
