package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kiosque/register/internal/domain"
	"kiosque/register/internal/remote"
)

// Store talks to the shop's central PostgreSQL instance.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, unit_price, currency, stock_quantity, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &p.Currency, &p.StockQuantity, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) ListPromotions(ctx context.Context) ([]domain.Promotion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, value, minimum_amount, active
		FROM promotions
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer rows.Close()

	promos := make([]domain.Promotion, 0, 16)
	for rows.Next() {
		var p domain.Promotion
		var kind string
		if err := rows.Scan(&p.ID, &p.Name, &kind, &p.Value, &p.MinimumAmount, &p.Active); err != nil {
			return nil, err
		}
		p.Kind = domain.PromotionKind(kind)
		promos = append(promos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return promos, nil
}

// CommitSale writes the order header, every line item, and all stock
// decrements inside one serializable transaction. Any failure rolls the
// whole order back; the register never sees partial writes. The sale id is
// the idempotency key: a replay of a committed record returns the original
// order reference without touching stock.
func (s *Store) CommitSale(ctx context.Context, record domain.SaleRecord) (remote.CommitResult, error) {
	if record.ID == "" || len(record.Items) == 0 {
		return remote.CommitResult{}, remote.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return remote.CommitResult{}, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var existingRef string
	err = pgTx.QueryRowContext(ctx, `
		SELECT order_ref FROM sales WHERE id = $1
	`, record.ID).Scan(&existingRef)
	if err == nil {
		return remote.CommitResult{OrderRef: existingRef, Duplicate: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return remote.CommitResult{}, err
	}

	orderRef := "ord-" + record.ID
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, order_ref, register_id, session_id, subtotal, discount_total, total, currency, recorded_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, record.ID, orderRef, record.RegisterID, record.SessionID,
		record.Subtotal, record.DiscountTotal, record.Total, record.Currency, record.RecordedAt)
	if err != nil {
		return remote.CommitResult{}, err
	}

	for _, item := range record.Items {
		if item.Quantity < 1 {
			return remote.CommitResult{}, remote.ErrInvalidSale
		}

		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, discount_percent)
			VALUES ($1,$2,$3,$4,$5)
		`, record.ID, item.ProductID, item.Quantity, item.UnitPrice, item.DiscountPercent)
		if err != nil {
			return remote.CommitResult{}, err
		}

		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1, updated_at = now()
			WHERE id = $2 AND stock_quantity >= $1
		`, item.Quantity, item.ProductID)
		if err != nil {
			return remote.CommitResult{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return remote.CommitResult{}, err
		}
		if affected == 0 {
			return remote.CommitResult{}, fmt.Errorf("%w: product %s", remote.ErrInsufficientStock, item.ProductID)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return remote.CommitResult{}, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	return remote.CommitResult{OrderRef: orderRef}, nil
}
