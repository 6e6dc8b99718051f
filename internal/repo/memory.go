package repo

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/order"
	"github.com/noah-isme/backend-laundry/internal/pickup"
	"github.com/noah-isme/backend-laundry/internal/pricing"
	"github.com/noah-isme/backend-laundry/internal/promo"
	"github.com/noah-isme/backend-laundry/internal/user"
)

// Memory bundles the in-process stores used by tests and STORAGE_DRIVER=memory.
type Memory struct {
	Orders  *MemoryOrders
	Pickups *MemoryPickups
	Promos  *MemoryPromos
	Events  *MemoryEvents
	Users   *MemoryUsers
}

// NewMemory returns empty in-memory stores.
func NewMemory() *Memory {
	return &Memory{
		Orders:  &MemoryOrders{byID: map[uuid.UUID]order.Order{}, numbers: map[string]uuid.UUID{}},
		Pickups: &MemoryPickups{byID: map[uuid.UUID]pickup.Pickup{}},
		Promos:  &MemoryPromos{byID: map[uuid.UUID]promo.Promo{}, codes: map[string]uuid.UUID{}},
		Events:  &MemoryEvents{},
		Users:   &MemoryUsers{totals: map[string]user.Totals{}},
	}
}

// MemoryOrders implements order.Repository.
type MemoryOrders struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]order.Order
	numbers map[string]uuid.UUID
}

func (m *MemoryOrders) Create(ctx context.Context, o order.Order) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.numbers[o.Number]; ok {
		return order.Order{}, order.ErrConflict
	}
	if _, ok := m.byID[o.ID]; ok {
		return order.Order{}, order.ErrConflict
	}
	o = cloneOrder(o)
	m.byID[o.ID] = o
	m.numbers[o.Number] = o.ID
	return cloneOrder(o), nil
}

func (m *MemoryOrders) FindByID(ctx context.Context, id uuid.UUID) (order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byID[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryOrders) Update(ctx context.Context, o order.Order) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[o.ID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	o.Number = existing.Number
	o.CreatedAt = existing.CreatedAt
	o = cloneOrder(o)
	m.byID[o.ID] = o
	return cloneOrder(o), nil
}

func (m *MemoryOrders) List(ctx context.Context, filter order.ListFilter) ([]order.Order, int, error) {
	m.mu.RLock()
	matched := make([]order.Order, 0, len(m.byID))
	for _, o := range m.byID {
		if filter.CustomerID != "" && !o.OwnedBy(filter.CustomerID) {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		matched = append(matched, o)
	}
	m.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := paginate(matched, filter.Page, filter.PerPage)
	out := make([]order.Order, 0, len(page))
	for _, o := range page {
		out = append(out, cloneOrder(o))
	}
	return out, len(matched), nil
}

// MemoryPickups implements pickup.Repository.
type MemoryPickups struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]pickup.Pickup
}

func (m *MemoryPickups) Create(ctx context.Context, p pickup.Pickup) (pickup.Pickup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; ok {
		return pickup.Pickup{}, fmt.Errorf("pickup %s already exists", p.ID)
	}
	m.byID[p.ID] = clonePickup(p)
	return clonePickup(p), nil
}

func (m *MemoryPickups) FindByID(ctx context.Context, id uuid.UUID) (pickup.Pickup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return pickup.Pickup{}, pickup.ErrNotFound
	}
	return clonePickup(p), nil
}

func (m *MemoryPickups) Update(ctx context.Context, p pickup.Pickup) (pickup.Pickup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[p.ID]
	if !ok {
		return pickup.Pickup{}, pickup.ErrNotFound
	}
	p.CustomerID = existing.CustomerID
	p.CreatedAt = existing.CreatedAt
	m.byID[p.ID] = clonePickup(p)
	return clonePickup(p), nil
}

func (m *MemoryPickups) List(ctx context.Context, filter pickup.ListFilter) ([]pickup.Pickup, int, error) {
	start, end, byDay := filter.DayRange()
	m.mu.RLock()
	matched := make([]pickup.Pickup, 0, len(m.byID))
	for _, p := range m.byID {
		if filter.CustomerID != "" && p.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.AssignedTo != "" && (p.AssignedTo == nil || *p.AssignedTo != filter.AssignedTo) {
			continue
		}
		if byDay && (p.Date.Before(start) || !p.Date.Before(end)) {
			continue
		}
		matched = append(matched, p)
	}
	m.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := paginate(matched, filter.Page, filter.PerPage)
	out := make([]pickup.Pickup, 0, len(page))
	for _, p := range page {
		out = append(out, clonePickup(p))
	}
	return out, len(matched), nil
}

// MemoryPromos implements promo.Repository. ConditionalIncrementUsage holds
// the write lock across the cap checks and the increment.
type MemoryPromos struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]promo.Promo
	codes map[string]uuid.UUID
	usage []promo.Usage
}

func (m *MemoryPromos) FindByCode(ctx context.Context, code string) (promo.Promo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[promo.NormalizeCode(code)]
	if !ok {
		return promo.Promo{}, promo.ErrNotFound
	}
	return clonePromo(m.byID[id]), nil
}

func (m *MemoryPromos) FindByID(ctx context.Context, id uuid.UUID) (promo.Promo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return promo.Promo{}, promo.ErrNotFound
	}
	return clonePromo(p), nil
}

func (m *MemoryPromos) List(ctx context.Context, filter promo.ListFilter) ([]promo.Promo, int, error) {
	m.mu.RLock()
	matched := make([]promo.Promo, 0, len(m.byID))
	for _, p := range m.byID {
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		matched = append(matched, clonePromo(p))
	}
	m.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Page, filter.PerPage), len(matched), nil
}

func (m *MemoryPromos) Create(ctx context.Context, p promo.Promo) (promo.Promo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Code = promo.NormalizeCode(p.Code)
	if _, ok := m.codes[p.Code]; ok {
		return promo.Promo{}, promo.ErrConflict
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p = clonePromo(p)
	m.byID[p.ID] = p
	m.codes[p.Code] = p.ID
	return clonePromo(p), nil
}

func (m *MemoryPromos) Update(ctx context.Context, p promo.Promo) (promo.Promo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[p.ID]
	if !ok {
		return promo.Promo{}, promo.ErrNotFound
	}
	p.Code = existing.Code
	p.UsageCount = existing.UsageCount
	p.CreatedAt = existing.CreatedAt
	p = clonePromo(p)
	m.byID[p.ID] = p
	return clonePromo(p), nil
}

func (m *MemoryPromos) CountUserUsage(ctx context.Context, promoID uuid.UUID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countUsage(m.usage, promoID, userID), nil
}

func (m *MemoryPromos) ConditionalIncrementUsage(ctx context.Context, r promo.Redemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[r.PromoID]
	if !ok {
		return promo.ErrNotFound
	}
	if p.MaxUsage != nil && p.UsageCount >= *p.MaxUsage {
		return &promo.CapacityError{Reason: promo.ReasonUsageCapReached}
	}
	if r.UserID != "" && p.MaxUsagePerUser > 0 && countUsage(m.usage, p.ID, r.UserID) >= p.MaxUsagePerUser {
		return &promo.CapacityError{Reason: promo.ReasonUserCapReached}
	}
	p.UsageCount++
	p.UpdatedAt = r.At
	m.byID[p.ID] = p
	m.usage = append(m.usage, promo.Usage{
		PromoID:         p.ID,
		UserID:          r.UserID,
		OrderID:         r.OrderID,
		DiscountApplied: r.Discount,
		UsedAt:          r.At,
	})
	return nil
}

func (m *MemoryPromos) RecentUsage(ctx context.Context, promoID uuid.UUID, limit int) ([]promo.Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]promo.Usage, 0, limit)
	for i := len(m.usage) - 1; i >= 0 && len(out) < limit; i-- {
		if m.usage[i].PromoID == promoID {
			out = append(out, m.usage[i])
		}
	}
	return out, nil
}

func (m *MemoryPromos) UsageTotals(ctx context.Context, promoID uuid.UUID) (promo.UsageTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var totals promo.UsageTotals
	users := map[string]struct{}{}
	for _, u := range m.usage {
		if u.PromoID != promoID {
			continue
		}
		totals.Count++
		totals.DiscountGiven += u.DiscountApplied
		if u.UserID != "" {
			users[u.UserID] = struct{}{}
		}
	}
	totals.UniqueUsers = len(users)
	return totals, nil
}

// MemoryEvents implements events.EventStore.
type MemoryEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *MemoryEvents) InsertEvent(ctx context.Context, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// All returns a copy of the stored events in insertion order.
func (m *MemoryEvents) All() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// MemoryUsers implements user.Store.
type MemoryUsers struct {
	mu     sync.Mutex
	totals map[string]user.Totals
}

func (m *MemoryUsers) IncrementOrderStats(ctx context.Context, userID string, amount pricing.Money, points int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.totals[userID]
	t.TotalOrders++
	t.TotalSpent += amount
	t.LoyaltyPoints += points
	m.totals[userID] = t
	return nil
}

func (m *MemoryUsers) Totals(ctx context.Context, userID string) (user.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[userID], nil
}

func countUsage(history []promo.Usage, promoID uuid.UUID, userID string) int {
	var n int
	for _, u := range history {
		if u.PromoID == promoID && userID != "" && u.UserID == userID {
			n++
		}
	}
	return n
}

func paginate[T any](items []T, page, perPage int) []T {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		return items
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := min(start+perPage, len(items))
	return items[start:end]
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	o.Tracking = slices.Clone(o.Tracking)
	o.Notes = slices.Clone(o.Notes)
	o.Summary = o.Summary.Recompute()
	return o
}

func clonePickup(p pickup.Pickup) pickup.Pickup {
	p.EstimatedItems = slices.Clone(p.EstimatedItems)
	p.ActualItems = slices.Clone(p.ActualItems)
	if p.AssignedTo != nil {
		staff := *p.AssignedTo
		p.AssignedTo = &staff
	}
	return p
}

func clonePromo(p promo.Promo) promo.Promo {
	p.ApplicableServices = slices.Clone(p.ApplicableServices)
	p.ExcludedServices = slices.Clone(p.ExcludedServices)
	return p
}
