package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kiosque/register/internal/cache"
	"kiosque/register/internal/domain"
	"kiosque/register/internal/remote"
	"kiosque/register/internal/remote/memory"
)

func openTestCatalog(t *testing.T, rem remote.Store, pc cache.PromotionCache) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), rem, pc, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRefreshMirrorsRemoteCatalog(t *testing.T) {
	rem := memory.NewSeeded()
	cat := openTestCatalog(t, rem, cache.NoopPromotionCache{})

	require.NoError(t, cat.Refresh(context.Background(), nil))

	riz, ok := cat.Product("PRD-RIZ-01")
	require.True(t, ok)
	require.Equal(t, 5, riz.StockQuantity)

	// Inactive products are not part of the sellable mirror.
	_, ok = cat.Product("PRD-ARCHIVE-01")
	require.False(t, ok)

	promos := cat.Promotions()
	require.Len(t, promos, 1)
	require.Equal(t, "PROMO-DIX-01", promos[0].ID)
}

func TestRefreshReappliesReservations(t *testing.T) {
	rem := memory.NewSeeded()
	cat := openTestCatalog(t, rem, cache.NoopPromotionCache{})

	reserved := map[string]int{"PRD-RIZ-01": 3}
	require.NoError(t, cat.Refresh(context.Background(), reserved))

	riz, ok := cat.Product("PRD-RIZ-01")
	require.True(t, ok)
	require.Equal(t, 2, riz.StockQuantity, "refresh must subtract still-unsynced reservations")
}

func TestRefreshPropagatesRemoteFailure(t *testing.T) {
	rem := memory.NewSeeded()
	cat := openTestCatalog(t, rem, cache.NoopPromotionCache{})
	require.NoError(t, cat.Refresh(context.Background(), nil))

	rem.SetUnavailable(true)
	err := cat.Refresh(context.Background(), nil)
	require.ErrorIs(t, err, remote.ErrUnavailable)

	// The previous mirror stays usable.
	_, ok := cat.Product("PRD-RIZ-01")
	require.True(t, ok)
}

func TestAdjustStockCanGoNegative(t *testing.T) {
	rem := memory.NewSeeded()
	cat := openTestCatalog(t, rem, cache.NoopPromotionCache{})
	require.NoError(t, cat.Refresh(context.Background(), nil))

	cat.AdjustStock("PRD-RIZ-01", -8)

	riz, ok := cat.Product("PRD-RIZ-01")
	require.True(t, ok)
	require.Equal(t, -3, riz.StockQuantity)

	// Unknown product is a no-op.
	cat.AdjustStock("PRD-ABSENT-01", -1)
}

func TestSnapshotSurvivesReopenWhileOffline(t *testing.T) {
	rem := memory.NewSeeded()
	path := filepath.Join(t.TempDir(), "catalog.db")

	cat, err := Open(path, rem, cache.NoopPromotionCache{}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, cat.Refresh(context.Background(), nil))
	cat.AdjustStock("PRD-RIZ-01", -3)
	require.NoError(t, cat.Close())

	rem.SetUnavailable(true)
	reopened, err := Open(path, rem, cache.NoopPromotionCache{}, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	riz, ok := reopened.Product("PRD-RIZ-01")
	require.True(t, ok)
	require.Equal(t, 2, riz.StockQuantity, "snapshot must carry local decrements across restarts")
	require.Len(t, reopened.Promotions(), 1)
}

// recordingPromoCache serves promotions from its store once primed, standing
// in for redis in refresh tests.
type recordingPromoCache struct {
	stored []domain.Promotion
	primed bool
	sets   int
}

func (c *recordingPromoCache) Get(context.Context, string) ([]domain.Promotion, bool, error) {
	if !c.primed {
		return nil, false, nil
	}
	return c.stored, true, nil
}

func (c *recordingPromoCache) Set(_ context.Context, _ string, promos []domain.Promotion, _ time.Duration) error {
	c.stored = promos
	c.primed = true
	c.sets++
	return nil
}

func TestRefreshServesPromotionsFromCache(t *testing.T) {
	rem := memory.NewSeeded()
	pc := &recordingPromoCache{}
	cat := openTestCatalog(t, rem, pc)

	require.NoError(t, cat.Refresh(context.Background(), nil))
	require.Equal(t, 1, pc.sets, "first refresh primes the cache")

	// A promotion added remotely is invisible until the cache entry expires.
	rem.SeedPromotion(domain.Promotion{ID: "PROMO-NOUVEAU-01", Kind: domain.PromotionPercentage, Active: true})
	require.NoError(t, cat.Refresh(context.Background(), nil))

	require.Equal(t, 1, pc.sets)
	require.Len(t, cat.Promotions(), 1)
}

func TestProductsSortedByCategoryThenName(t *testing.T) {
	rem := memory.NewSeeded()
	cat := openTestCatalog(t, rem, cache.NoopPromotionCache{})
	require.NoError(t, cat.Refresh(context.Background(), nil))

	products := cat.Products()
	require.NotEmpty(t, products)
	for i := 1; i < len(products); i++ {
		prev, cur := products[i-1], products[i]
		inOrder := prev.Category < cur.Category ||
			(prev.Category == cur.Category && prev.Name <= cur.Name)
		require.True(t, inOrder, "products out of order at %d: %s/%s before %s/%s",
			i, prev.Category, prev.Name, cur.Category, cur.Name)
	}
}
