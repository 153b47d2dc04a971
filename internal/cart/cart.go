package cart

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"kiosque/register/internal/domain"
)

var (
	// ErrStockExhausted means the cached stock for the product is zero or less.
	ErrStockExhausted = errors.New("stock exhausted")
	// ErrStockInsufficient means the requested quantity exceeds cached stock.
	// The cart line keeps its previous quantity.
	ErrStockInsufficient = errors.New("stock insufficient")
	// ErrInvalidDiscount means the discount percent is outside 0-100.
	ErrInvalidDiscount = errors.New("discount percent must be between 0 and 100")
	// ErrLineNotFound means the product has no line in the cart.
	ErrLineNotFound = errors.New("cart line not found")
)

var hundred = decimal.NewFromInt(100)

// Cart is the mutable, ordered line-item collection for the customer
// interaction in progress. Every mutation is validated against the cached
// stock quantity before it is applied; a rejected mutation leaves the cart
// untouched.
type Cart struct {
	mu    sync.Mutex
	items []domain.CartItem
}

func New() *Cart {
	return &Cart{}
}

// Add puts one more unit of the product in the cart. The product carries the
// cached stock quantity the guard validates against.
func (c *Cart) Add(product domain.Product) error {
	if product.StockQuantity <= 0 {
		return ErrStockExhausted
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, item := range c.items {
		if item.ProductID != product.ID {
			continue
		}
		if item.Quantity+1 > product.StockQuantity {
			return ErrStockInsufficient
		}
		c.items[i].Quantity++
		return nil
	}

	c.items = append(c.items, domain.CartItem{
		ProductID:       product.ID,
		Name:            product.Name,
		UnitPrice:       product.UnitPrice,
		Quantity:        1,
		DiscountPercent: decimal.Zero,
	})
	return nil
}

// SetQuantity replaces a line's quantity. A quantity of zero or less removes
// the line. A quantity above the cached stock is rejected and the previous
// quantity is kept.
func (c *Cart) SetQuantity(productID string, quantity int, stockQuantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, item := range c.items {
		if item.ProductID != productID {
			continue
		}
		if quantity <= 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
		if quantity > stockQuantity {
			return ErrStockInsufficient
		}
		c.items[i].Quantity = quantity
		return nil
	}
	return ErrLineNotFound
}

// Remove deletes the product's line. Removing an absent line is a no-op.
func (c *Cart) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, item := range c.items {
		if item.ProductID == productID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

// ApplyDiscount sets the per-line discount percent (0-100).
func (c *Cart) ApplyDiscount(productID string, percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return ErrInvalidDiscount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, item := range c.items {
		if item.ProductID == productID {
			c.items[i].DiscountPercent = percent
			return nil
		}
	}
	return ErrLineNotFound
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []domain.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.CartItem, len(c.items))
	copy(out, c.items)
	return out
}

// Quantity reports the current quantity of a product, zero when absent.
func (c *Cart) Quantity(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range c.items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

func (c *Cart) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) == 0
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}
