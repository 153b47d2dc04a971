package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"kiosque/register/internal/cart"
	"kiosque/register/internal/catalog"
	"kiosque/register/internal/connectivity"
	"kiosque/register/internal/domain"
	"kiosque/register/internal/ident"
	"kiosque/register/internal/pricing"
	"kiosque/register/internal/queue"
	"kiosque/register/internal/remote"
)

// ErrEmptyCart rejects finalizing a cart with no items; session totals are
// left untouched.
var ErrEmptyCart = errors.New("cart is empty")

// Event topics published on the bus for the register UI.
const (
	TopicSaleCompleted   = "sale.completed"
	TopicSaleQueued      = "sale.queued"
	TopicSaleSynced      = "sale.synced"
	TopicSaleQuarantined = "sale.quarantined"
)

const (
	defaultCurrency       = "GNF"
	defaultMaxSyncRetries = 5
	drainTimeout          = 30 * time.Second
)

// Params carries the engine's collaborators, one register session's worth.
type Params struct {
	Remote         remote.Store
	Catalog        *catalog.Catalog
	Queue          *queue.Queue
	Monitor        *connectivity.Monitor
	Bus            EventBus.Bus
	IDs            *ident.Generator
	RegisterID     string
	Currency       string
	MaxSyncRetries int
	Clock          func() time.Time
}

// Service is the register's transaction engine: it owns the cart, decides
// between the online commit and the offline queue at finalize time, and
// replays the queue when connectivity returns.
//
// A single mutex serializes FinalizeSale, DrainQueue, and RefreshCatalog:
// a manual finalize and an automatic drain both mutate the cached stock
// counts and the queue, so they must never interleave. A finalize that has
// started always runs to a terminal state.
type Service struct {
	mu sync.Mutex

	cart    *cart.Cart
	catalog *catalog.Catalog
	queue   *queue.Queue
	remote  remote.Store
	monitor *connectivity.Monitor
	bus     EventBus.Bus
	ids     *ident.Generator
	clock   func() time.Time

	registerID     string
	currency       string
	maxSyncRetries int

	session domain.Session
}

func New(p Params) (*Service, error) {
	if p.Currency == "" {
		p.Currency = defaultCurrency
	}
	if p.MaxSyncRetries < 1 {
		p.MaxSyncRetries = defaultMaxSyncRetries
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}

	s := &Service{
		cart:           cart.New(),
		catalog:        p.Catalog,
		queue:          p.Queue,
		remote:         p.Remote,
		monitor:        p.Monitor,
		bus:            p.Bus,
		ids:            p.IDs,
		clock:          p.Clock,
		registerID:     p.RegisterID,
		currency:       p.Currency,
		maxSyncRetries: p.MaxSyncRetries,
	}
	s.session = s.newSession("")

	if err := p.Bus.Subscribe(connectivity.TopicChanged, s.onConnectivityChange); err != nil {
		return nil, fmt.Errorf("subscribe connectivity topic: %w", err)
	}

	return s, nil
}

func (s *Service) newSession(cashier string) domain.Session {
	return domain.Session{
		ID:         ident.SessionID(),
		RegisterID: s.registerID,
		Cashier:    cashier,
		OpenedAt:   s.clock(),
		TotalSales: decimal.Zero,
	}
}

// OpenSession rotates the register session; the previous one is returned so
// callers can report its closing totals.
func (s *Service) OpenSession(cashier string) (closed domain.Session, opened domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed = s.session
	s.session = s.newSession(cashier)
	log.Info().Str("session_id", s.session.ID).Str("cashier", cashier).Msg("session opened")
	return closed, s.session
}

func (s *Service) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) Products() []domain.Product {
	return s.catalog.Products()
}

// AddToCart puts one unit of the product in the cart, guarded by the cached
// stock count.
func (s *Service) AddToCart(productID string) error {
	product, ok := s.catalog.Product(productID)
	if !ok {
		return fmt.Errorf("%w: product %s", remote.ErrNotFound, productID)
	}
	if !product.Active {
		return fmt.Errorf("%w: product %s is inactive", remote.ErrNotFound, productID)
	}
	return s.cart.Add(product)
}

func (s *Service) SetCartQuantity(productID string, quantity int) error {
	product, ok := s.catalog.Product(productID)
	if !ok {
		return fmt.Errorf("%w: product %s", remote.ErrNotFound, productID)
	}
	return s.cart.SetQuantity(productID, quantity, product.StockQuantity)
}

func (s *Service) RemoveFromCart(productID string) {
	s.cart.Remove(productID)
}

func (s *Service) ApplyDiscount(productID string, percent decimal.Decimal) error {
	return s.cart.ApplyDiscount(productID, percent)
}

// CartView is the read-only cart projection exposed to the UI.
type CartView struct {
	Items   []domain.CartItem    `json:"items"`
	Pricing domain.PricingResult `json:"pricing"`
}

func (s *Service) CartView() CartView {
	items := s.cart.Items()
	return CartView{
		Items:   items,
		Pricing: pricing.Compute(items, s.catalog.Promotions()),
	}
}

// FinalizeSale converts the cart into a committed or queued sale.
//
// Online: one atomic remote commit; on failure the cart is preserved and the
// error surfaces wrapped in remote.ErrRemoteWriteFailed so the operator can
// retry. Offline: the sale is appended to the durable queue, cached stock is
// optimistically decremented, and session totals update immediately so the
// cashier's numbers reflect reality before the sync happens.
func (s *Service) FinalizeSale(ctx context.Context) (domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.cart.Items()
	if len(items) == 0 {
		return domain.SaleRecord{}, ErrEmptyCart
	}

	result := pricing.Compute(items, s.catalog.Promotions())
	record := domain.SaleRecord{
		ID:            s.ids.SaleID(),
		RegisterID:    s.registerID,
		SessionID:     s.session.ID,
		Items:         items,
		Subtotal:      result.Subtotal,
		DiscountTotal: result.ItemDiscountTotal.Add(result.PromotionDiscountTotal),
		Total:         result.Total,
		Currency:      s.currency,
		RecordedAt:    s.clock(),
		Status:        domain.SaleStatusPending,
	}

	if s.monitor.IsOnline() {
		return s.commitOnlineLocked(ctx, record)
	}
	return s.enqueueOfflineLocked(record)
}

func (s *Service) commitOnlineLocked(ctx context.Context, record domain.SaleRecord) (domain.SaleRecord, error) {
	commit, err := s.remote.CommitSale(ctx, record)
	if err != nil {
		// Cart untouched: the operator retries without re-entering items.
		log.Error().Err(err).Str("sale_id", record.ID).Msg("finalize: remote commit failed")
		return record, fmt.Errorf("%w: %v", remote.ErrRemoteWriteFailed, err)
	}

	record.Status = domain.SaleStatusOnlineCommitted
	record.RemoteRef = commit.OrderRef

	s.cart.Clear()
	s.recordSaleLocked(record.Total)

	if err := s.refreshCatalogLocked(ctx); err != nil {
		log.Warn().Err(err).Msg("finalize: catalog refresh after commit failed")
	}

	log.Info().Str("sale_id", record.ID).Str("order_ref", record.RemoteRef).
		Str("total", record.Total.String()).Msg("sale committed online")
	s.bus.Publish(TopicSaleCompleted, record)
	return record, nil
}

func (s *Service) enqueueOfflineLocked(record domain.SaleRecord) (domain.SaleRecord, error) {
	record.Status = domain.SaleStatusQueued
	if err := s.queue.Append(record); err != nil {
		return record, fmt.Errorf("queue offline sale: %w", err)
	}

	for _, item := range record.Items {
		s.catalog.AdjustStock(item.ProductID, -item.Quantity)
	}
	s.cart.Clear()
	s.recordSaleLocked(record.Total)

	log.Info().Str("sale_id", record.ID).Str("total", record.Total.String()).
		Msg("sale recorded offline, queued for sync")
	s.bus.Publish(TopicSaleQueued, record)
	return record, nil
}

func (s *Service) recordSaleLocked(total decimal.Decimal) {
	s.session.TotalSales = s.session.TotalSales.Add(total)
	s.session.TransactionCount++
}

// DrainReport summarizes one pass over the offline queue.
type DrainReport struct {
	Synced      int `json:"synced"`
	Failed      int `json:"failed"`
	Quarantined int `json:"quarantined"`
}

// DrainQueue replays pending entries sequentially, oldest first, never
// concurrently: it shares the engine mutex with FinalizeSale. Each replay
// reuses the persisted snapshot and the entry's id as idempotency key, so a
// commit the remote already saw is a clean no-op. An entry that keeps
// failing is retried at most MaxSyncRetries times and then quarantined for
// operator reconciliation; it is never dropped.
func (s *Service) DrainQueue(ctx context.Context) (DrainReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked(ctx)
}

func (s *Service) drainLocked(ctx context.Context) (DrainReport, error) {
	var report DrainReport

	pending, err := s.queue.Pending()
	if err != nil {
		return report, err
	}

	for _, entry := range pending {
		if !s.monitor.IsOnline() {
			break
		}

		commit, err := s.remote.CommitSale(ctx, entry)
		if errors.Is(err, remote.ErrUnavailable) {
			// Link dropped mid-drain; not a business failure, leave the
			// entry as-is and let the next transition resume.
			s.monitor.SetOnline(false)
			break
		}
		if err != nil {
			report.Failed++
			quarantined, markErr := s.queue.MarkFailed(entry.ID, err.Error(), s.maxSyncRetries)
			if markErr != nil {
				return report, markErr
			}
			log.Warn().Err(err).Str("sale_id", entry.ID).Int("attempt", entry.SyncAttempts+1).
				Msg("drain: replay failed")
			if quarantined {
				report.Quarantined++
				entry.Status = domain.SaleStatusQuarantined
				log.Error().Str("sale_id", entry.ID).
					Msg("drain: entry quarantined after exhausting retries")
				s.bus.Publish(TopicSaleQuarantined, entry)
			}
			continue
		}

		if commit.Duplicate {
			log.Info().Str("sale_id", entry.ID).Msg("drain: remote already has this sale")
		}
		if err := s.queue.MarkSynced(entry.ID, commit.OrderRef); err != nil {
			return report, err
		}
		report.Synced++
		entry.Status = domain.SaleStatusSynced
		entry.RemoteRef = commit.OrderRef
		s.bus.Publish(TopicSaleSynced, entry)
	}

	if report.Synced > 0 {
		if err := s.refreshCatalogLocked(ctx); err != nil {
			log.Warn().Err(err).Msg("drain: catalog refresh failed")
		}
	}

	return report, nil
}

// RefreshCatalog pulls the authoritative catalog and re-applies outstanding
// reservations from unsynced queue entries.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCatalogLocked(ctx)
}

func (s *Service) refreshCatalogLocked(ctx context.Context) error {
	reserved, err := s.queue.ReservedQuantities()
	if err != nil {
		return err
	}
	return s.catalog.Refresh(ctx, reserved)
}

func (s *Service) PendingCount() (int, error) {
	return s.queue.PendingCount()
}

func (s *Service) PendingEntries() ([]domain.SaleRecord, error) {
	return s.queue.Pending()
}

func (s *Service) QuarantinedEntries() ([]domain.SaleRecord, error) {
	return s.queue.Quarantined()
}

// AcknowledgeQuarantined releases a quarantined entry once the operator has
// reconciled it manually.
func (s *Service) AcknowledgeQuarantined(id string) error {
	return s.queue.Acknowledge(id)
}

func (s *Service) Online() bool {
	return s.monitor.IsOnline()
}

// SetOnline feeds the host runtime's connectivity signal into the monitor.
func (s *Service) SetOnline(online bool) {
	s.monitor.SetOnline(online)
}

func (s *Service) onConnectivityChange(online bool) {
	if !online {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	report, err := s.DrainQueue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("drain: queue replay aborted")
		return
	}
	if report.Synced > 0 || report.Failed > 0 {
		log.Info().Int("synced", report.Synced).Int("failed", report.Failed).
			Int("quarantined", report.Quarantined).Msg("drain: queue replay finished")
	}
}
