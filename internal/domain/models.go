package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the register's local copy of a sellable item. The remote
// catalog owns it; the cached StockQuantity is authoritative only as of the
// last successful refresh.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Currency      string          `json:"currency"`
	StockQuantity int             `json:"stock_quantity"`
	Active        bool            `json:"active"`
}

// CartItem is one line of the in-progress sale. It exists only inside the
// open register session and is destroyed on removal or finalize.
type CartItem struct {
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type PromotionKind string

const (
	PromotionPercentage  PromotionKind = "percentage"
	PromotionFixedAmount PromotionKind = "fixed_amount"
)

// Promotion is a store-wide discount rule, read-only on the register.
type Promotion struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Kind          PromotionKind   `json:"kind"`
	Value         decimal.Decimal `json:"value"`
	MinimumAmount decimal.Decimal `json:"minimum_amount"`
	Active        bool            `json:"active"`
}

// PricingResult is recomputed on every cart mutation and never persisted.
type PricingResult struct {
	Subtotal               decimal.Decimal `json:"subtotal"`
	ItemDiscountTotal      decimal.Decimal `json:"item_discount_total"`
	PromotionDiscountTotal decimal.Decimal `json:"promotion_discount_total"`
	Total                  decimal.Decimal `json:"total"`
	ItemCount              int             `json:"item_count"`
}

type SaleStatus string

const (
	SaleStatusPending         SaleStatus = "pending"
	SaleStatusOnlineCommitted SaleStatus = "online_committed"
	SaleStatusQueued          SaleStatus = "queued"
	SaleStatusSynced          SaleStatus = "synced"
	SaleStatusSyncFailed      SaleStatus = "sync_failed"
	SaleStatusQuarantined     SaleStatus = "quarantined"
)

// SaleRecord is the immutable snapshot taken at finalize time. Status moves
// monotonically pending -> {online_committed | queued} -> {synced |
// sync_failed} -> quarantined and never backwards; a synced record is never
// replayed.
type SaleRecord struct {
	ID            string          `json:"id"`
	RegisterID    string          `json:"register_id"`
	SessionID     string          `json:"session_id"`
	Items         []CartItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	RecordedAt    time.Time       `json:"recorded_at"`
	Status        SaleStatus      `json:"status"`
	RemoteRef     string          `json:"remote_ref,omitempty"`
	SyncAttempts  int             `json:"sync_attempts"`
	LastSyncError string          `json:"last_sync_error,omitempty"`
}

// Session aggregates totals for the currently open register session. A sale
// counts exactly once, when it is recorded, never again at sync time.
type Session struct {
	ID               string          `json:"id"`
	RegisterID       string          `json:"register_id"`
	Cashier          string          `json:"cashier"`
	OpenedAt         time.Time       `json:"opened_at"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	TransactionCount int             `json:"transaction_count"`
}
