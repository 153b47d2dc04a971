package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"kiosque/register/internal/cache"
	"kiosque/register/internal/domain"
	"kiosque/register/internal/remote"
)

var (
	bucketProducts   = []byte("products")
	bucketPromotions = []byte("promotions")
)

const (
	promotionsKey           = "active"
	promotionsCacheKey      = "register:promotions"
	defaultPromoSnapshotTTL = 60 * time.Second
)

// Catalog is the register's local mirror of products and promotions. It is a
// cache: a refresh overwrites it wholesale from the remote store, and the
// bbolt snapshot lets a register restarted while offline keep selling at the
// last known prices and stock counts.
type Catalog struct {
	mu         sync.RWMutex
	db         *bolt.DB
	remote     remote.Store
	promoCache cache.PromotionCache
	promoTTL   time.Duration

	products   map[string]domain.Product
	promotions []domain.Promotion
}

func Open(path string, rs remote.Store, pc cache.PromotionCache, promoTTL time.Duration) (*Catalog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	c := &Catalog{
		db:         db,
		remote:     rs,
		promoCache: pc,
		promoTTL:   promoTTL,
		products:   map[string]domain.Product{},
	}
	if c.promoTTL <= 0 {
		c.promoTTL = defaultPromoSnapshotTTL
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProducts, bucketPromotions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := c.loadSnapshot(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Refresh overwrites the cache from the remote store, then re-applies the
// given outstanding reservations (quantities held by still-unsynced queue
// entries). The reapply step is what keeps a refresh from silently erasing
// pending reservations and double-selling stock the remote has not been told
// about yet.
func (c *Catalog) Refresh(ctx context.Context, reserved map[string]int) error {
	products, err := c.remote.ListProducts(ctx)
	if err != nil {
		return err
	}

	promotions, cached, cacheErr := c.promoCache.Get(ctx, promotionsCacheKey)
	if cacheErr != nil {
		log.Warn().Err(cacheErr).Msg("catalog: promotion cache read failed, falling back to remote")
		cached = false
	}
	if !cached {
		promotions, err = c.remote.ListPromotions(ctx)
		if err != nil {
			return err
		}
		if err := c.promoCache.Set(ctx, promotionsCacheKey, promotions, c.promoTTL); err != nil {
			log.Warn().Err(err).Msg("catalog: promotion cache write failed")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.products = make(map[string]domain.Product, len(products))
	for _, p := range products {
		if qty, held := reserved[p.ID]; held {
			p.StockQuantity -= qty
		}
		c.products[p.ID] = p
	}
	c.promotions = promotions

	return c.persistSnapshotLocked()
}

// Product looks up one cached product by id.
func (c *Catalog) Product(id string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	return p, ok
}

// Products returns the cached products sorted by category then name.
func (c *Catalog) Products() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Promotions returns a copy of the cached active promotions.
func (c *Catalog) Promotions() []domain.Promotion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Promotion, len(c.promotions))
	copy(out, c.promotions)
	return out
}

// AdjustStock applies a local delta to a cached stock count, typically the
// optimistic decrement of an offline sale. The count may go negative when a
// later authoritative refresh reveals other registers consumed the stock
// first; a negative count simply blocks further cart adds.
func (c *Catalog) AdjustStock(productID string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok {
		return
	}
	p.StockQuantity += delta
	c.products[productID] = p

	if err := c.persistSnapshotLocked(); err != nil {
		log.Warn().Err(err).Str("product_id", productID).Msg("catalog: snapshot persist failed")
	}
}

func (c *Catalog) persistSnapshotLocked() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketProducts); err != nil {
			return err
		}
		pb, err := tx.CreateBucket(bucketProducts)
		if err != nil {
			return err
		}
		for id, p := range c.products {
			payload, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := pb.Put([]byte(id), payload); err != nil {
				return err
			}
		}

		payload, err := json.Marshal(c.promotions)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPromotions).Put([]byte(promotionsKey), payload)
	})
}

func (c *Catalog) loadSnapshot() error {
	return c.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketProducts).ForEach(func(k, v []byte) error {
			var p domain.Product
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			c.products[string(k)] = p
			return nil
		})
		if err != nil {
			return err
		}

		raw := tx.Bucket(bucketPromotions).Get([]byte(promotionsKey))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &c.promotions)
	})
}
