package cache

import (
	"context"
	"time"

	"kiosque/register/internal/domain"
)

// PromotionCache keeps a short-lived snapshot of the remote promotion list
// so frequent catalog refreshes do not hammer the remote store.
type PromotionCache interface {
	Get(ctx context.Context, key string) ([]domain.Promotion, bool, error)
	Set(ctx context.Context, key string, promotions []domain.Promotion, ttl time.Duration) error
}

type NoopPromotionCache struct{}

func (NoopPromotionCache) Get(_ context.Context, _ string) ([]domain.Promotion, bool, error) {
	return nil, false, nil
}

func (NoopPromotionCache) Set(_ context.Context, _ string, _ []domain.Promotion, _ time.Duration) error {
	return nil
}
