package inventory

/*
Ledger - единственный источник правды о складских остатках.

- Каждая деталь защищена собственным мьютексом: check-then-reserve выполняется
  целиком под ним, поэтому параллельные брони одной детали не могут "проскочить"
  мимо остатка.
- Карта деталей фиксируется при создании и дальше не меняется, поэтому читается без
  общей блокировки.
- Журнал движений - append-only, под отдельным мьютексом. Порядок захвата всегда
  "деталь -> журнал".
*/

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// CatalogRequester - владелец брони, пришедшей из каталога при старте.
const CatalogRequester = "catalog"

const DefaultReservationTTL = 24 * time.Hour

type partEntry struct {
	mu           sync.Mutex
	rec          domain.PartRecord
	reservations []domain.Reservation
}

type Ledger struct {
	parts map[string]*partEntry
	order []string // порядок каталога, для детерминированной выдачи

	node   *snowflake.Node
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	logMu sync.Mutex
	log   []domain.ReservationLogEntry
}

type Option func(*Ledger)

// WithReservationTTL задает срок жизни брони по умолчанию. 0 - бессрочно.
func WithReservationTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.ttl = ttl }
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger строит склад из каталога. Некорректные записи пропускаются с предупреждением.
func NewLedger(parts []domain.PartRecord, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("reservation id generator: %w", err)
	}

	l := &Ledger{
		parts:  make(map[string]*partEntry, len(parts)),
		node:   node,
		ttl:    DefaultReservationTTL,
		now:    time.Now,
		logger: logger.Named("inventory"),
	}
	for _, opt := range opts {
		opt(l)
	}

	now := l.now()
	for _, p := range parts {
		if p.PartNumber == "" || p.TotalStock < 0 || p.ReservedQuantity < 0 || p.ReservedQuantity > p.TotalStock {
			l.logger.Warn("skipping invalid part record",
				zap.String("part_number", p.PartNumber),
				zap.Int("total_stock", p.TotalStock),
				zap.Int("reserved", p.ReservedQuantity))
			continue
		}
		if _, dup := l.parts[p.PartNumber]; dup {
			l.logger.Warn("duplicate part record ignored", zap.String("part_number", p.PartNumber))
			continue
		}
		if p.LastUpdated.IsZero() {
			p.LastUpdated = now
		}
		e := &partEntry{rec: p}
		// Бронь из каталога - одна синтетическая запись, чтобы сумма броней совпадала с reserved
		if p.ReservedQuantity > 0 {
			e.reservations = append(e.reservations, domain.Reservation{
				ID:         "RSV-" + l.node.Generate().String(),
				PartNumber: p.PartNumber,
				Quantity:   p.ReservedQuantity,
				Requester:  CatalogRequester,
				CreatedAt:  now,
			})
		}
		l.parts[p.PartNumber] = e
		l.order = append(l.order, p.PartNumber)
	}

	if len(l.parts) == 0 {
		return nil, fmt.Errorf("inventory catalog is empty")
	}
	l.logger.Info("inventory ledger initialized", zap.Int("parts", len(l.parts)))
	return l, nil
}

func (l *Ledger) entry(op, partNumber string) (*partEntry, error) {
	e, ok := l.parts[partNumber]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, op, partNumber, "part %s not found in inventory", partNumber)
	}
	return e, nil
}

func positive(op, field string, v int) error {
	if v <= 0 {
		return domain.NewError(domain.KindInvalidInput, op, "", "%s must be a positive integer, got %d", field, v).
			With("field", field)
	}
	return nil
}

// GetPartInfo - чистое чтение.
func (l *Ledger) GetPartInfo(partNumber string) (domain.PartRecord, error) {
	e, err := l.entry("inventory.get_part_info", partNumber)
	if err != nil {
		return domain.PartRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

type Availability struct {
	PartNumber        string  `json:"part_number"`
	RequestedQuantity int     `json:"requested_quantity"`
	TotalStock        int     `json:"total_stock"`
	ReservedQuantity  int     `json:"reserved_quantity"`
	NetAvailable      int     `json:"net_available"`
	CanFulfill        bool    `json:"can_fulfill"`
	Shortage          int     `json:"shortage"`
	UnitCost          float64 `json:"unit_cost"`
	TotalCost         float64 `json:"total_cost"`
	LeadTimeDays      int     `json:"lead_time_days"`
	WarehouseLocation string  `json:"warehouse_location"`
}

func (l *Ledger) CheckAvailability(partNumber string, quantity int) (Availability, error) {
	const op = "inventory.check_availability"
	if err := positive(op, "quantity", quantity); err != nil {
		return Availability{}, err
	}
	e, err := l.entry(op, partNumber)
	if err != nil {
		return Availability{}, err
	}

	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	net := rec.NetAvailable()
	return Availability{
		PartNumber:        rec.PartNumber,
		RequestedQuantity: quantity,
		TotalStock:        rec.TotalStock,
		ReservedQuantity:  rec.ReservedQuantity,
		NetAvailable:      net,
		CanFulfill:        quantity <= net,
		Shortage:          max(0, quantity-net),
		UnitCost:          rec.UnitCost,
		TotalCost:         domain.LineTotal(quantity, rec.UnitCost),
		LeadTimeDays:      rec.LeadTimeDays,
		WarehouseLocation: rec.WarehouseLocation,
	}, nil
}

type ReservationReceipt struct {
	Reservation        domain.Reservation `json:"reservation"`
	TotalReserved      int                `json:"total_reserved"`
	RemainingAvailable int                `json:"remaining_available"`
	TotalCost          float64            `json:"total_cost"`
}

// ReserveQuantity бронирует со сроком по умолчанию.
func (l *Ledger) ReserveQuantity(partNumber string, quantity int, requester string) (ReservationReceipt, error) {
	return l.ReserveFor(partNumber, quantity, requester, l.ttl)
}

// ReserveFor повторно проверяет остаток и бронирует атомарно под замком детали.
// При нехватке ничего не меняет и возвращает InsufficientStock с shortage.
func (l *Ledger) ReserveFor(partNumber string, quantity int, requester string, ttl time.Duration) (ReservationReceipt, error) {
	const op = "inventory.reserve"
	if err := positive(op, "quantity", quantity); err != nil {
		return ReservationReceipt{}, err
	}
	if requester == "" {
		return ReservationReceipt{}, domain.NewError(domain.KindMissingField, op, partNumber, "requester is required").
			With("field", "requester")
	}
	e, err := l.entry(op, partNumber)
	if err != nil {
		return ReservationReceipt{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	net := e.rec.NetAvailable()
	if quantity > net {
		return ReservationReceipt{}, domain.NewError(domain.KindInsufficientStock, op, partNumber,
			"insufficient stock for %s: requested %d, net available %d", partNumber, quantity, net).
			With("requested", quantity).
			With("net_available", net).
			With("shortage", quantity-net)
	}

	now := l.now()
	res := domain.Reservation{
		ID:         "RSV-" + l.node.Generate().String(),
		PartNumber: partNumber,
		Quantity:   quantity,
		Requester:  requester,
		CreatedAt:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		res.ExpiresAt = &exp
	}

	e.rec.ReservedQuantity += quantity
	e.rec.LastUpdated = now
	e.reservations = append(e.reservations, res)
	l.appendLog(domain.ActionReserve, res.ID, e.rec, quantity, requester, now)

	l.logger.Info("quantity reserved",
		zap.String("part_number", partNumber),
		zap.Int("quantity", quantity),
		zap.String("requester", requester),
		zap.String("reservation_id", res.ID))

	return ReservationReceipt{
		Reservation:        res,
		TotalReserved:      e.rec.ReservedQuantity,
		RemainingAvailable: e.rec.NetAvailable(),
		TotalCost:          domain.LineTotal(quantity, e.rec.UnitCost),
	}, nil
}

type ReleaseReceipt struct {
	PartNumber         string   `json:"part_number"`
	Quantity           int      `json:"quantity"`
	Requester          string   `json:"requester"`
	TotalReserved      int      `json:"total_reserved"`
	RemainingAvailable int      `json:"remaining_available"`
	TotalStock         int      `json:"total_stock"`
	Reservations       []string `json:"affected_reservations"`
}

// ReleaseReservation снимает бронь. Нельзя снять больше, чем забронировано по детали.
func (l *Ledger) ReleaseReservation(partNumber string, quantity int, requester string) (ReleaseReceipt, error) {
	return l.unreserve("inventory.release", domain.ActionRelease, partNumber, quantity, requester, false)
}

// IssueReserved списывает забронированное при доставке: уменьшает и бронь, и общий остаток.
func (l *Ledger) IssueReserved(partNumber string, quantity int, requester string) (ReleaseReceipt, error) {
	return l.unreserve("inventory.issue", domain.ActionIssue, partNumber, quantity, requester, false)
}

// ReleaseOwn снимает только брони самого requester. Чужие брони не трогает:
// если своих меньше quantity - OverRelease без изменений.
func (l *Ledger) ReleaseOwn(partNumber string, quantity int, requester string) (ReleaseReceipt, error) {
	return l.unreserve("inventory.release_own", domain.ActionRelease, partNumber, quantity, requester, true)
}

// IssueOwn списывает только из броней самого requester.
func (l *Ledger) IssueOwn(partNumber string, quantity int, requester string) (ReleaseReceipt, error) {
	return l.unreserve("inventory.issue_own", domain.ActionIssue, partNumber, quantity, requester, true)
}

func (l *Ledger) unreserve(op string, action domain.ReservationAction, partNumber string, quantity int, requester string, ownOnly bool) (ReleaseReceipt, error) {
	if err := positive(op, "quantity", quantity); err != nil {
		return ReleaseReceipt{}, err
	}
	e, err := l.entry(op, partNumber)
	if err != nil {
		return ReleaseReceipt{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if quantity > e.rec.ReservedQuantity {
		return ReleaseReceipt{}, domain.NewError(domain.KindOverRelease, op, partNumber,
			"cannot release %d of %s: only %d reserved", quantity, partNumber, e.rec.ReservedQuantity).
			With("requested", quantity).
			With("reserved_quantity", e.rec.ReservedQuantity)
	}
	if ownOnly {
		if held := e.heldBy(requester); quantity > held {
			return ReleaseReceipt{}, domain.NewError(domain.KindOverRelease, op, partNumber,
				"cannot release %d of %s: %s holds only %d", quantity, partNumber, requester, held).
				With("requested", quantity).
				With("held", held).
				With("requester", requester)
		}
	}

	touched := e.drain(quantity, requester, ownOnly)
	e.rec.ReservedQuantity -= quantity
	if action == domain.ActionIssue {
		e.rec.TotalStock -= quantity
	}
	now := l.now()
	e.rec.LastUpdated = now
	l.appendLog(action, "", e.rec, quantity, requester, now)

	l.logger.Info("reservation reduced",
		zap.String("action", string(action)),
		zap.String("part_number", partNumber),
		zap.Int("quantity", quantity),
		zap.String("requester", requester))

	return ReleaseReceipt{
		PartNumber:         partNumber,
		Quantity:           quantity,
		Requester:          requester,
		TotalReserved:      e.rec.ReservedQuantity,
		RemainingAvailable: e.rec.NetAvailable(),
		TotalStock:         e.rec.TotalStock,
		Reservations:       touched,
	}, nil
}

// drain уменьшает открытые брони на qty: сначала свои (с новых), потом чужие.
// ownOnly - только свои. Вызывать под e.mu, qty не больше доступной суммы броней.
func (e *partEntry) drain(qty int, requester string, ownOnly bool) []string {
	var touched []string
	remaining := qty
	passes := 2
	if ownOnly {
		passes = 1
	}
	for pass := 0; pass < passes && remaining > 0; pass++ {
		for i := len(e.reservations) - 1; i >= 0 && remaining > 0; i-- {
			r := &e.reservations[i]
			own := r.Requester == requester
			if (pass == 0) != own {
				continue
			}
			take := min(r.Quantity, remaining)
			r.Quantity -= take
			remaining -= take
			touched = append(touched, r.ID)
		}
	}

	kept := e.reservations[:0]
	for _, r := range e.reservations {
		if r.Quantity > 0 {
			kept = append(kept, r)
		}
	}
	e.reservations = kept
	return touched
}

// heldBy - сумма открытых броней requester. Вызывать под e.mu.
func (e *partEntry) heldBy(requester string) int {
	n := 0
	for _, r := range e.reservations {
		if r.Requester == requester {
			n += r.Quantity
		}
	}
	return n
}

func (l *Ledger) appendLog(action domain.ReservationAction, reservationID string, rec domain.PartRecord, qty int, requester string, at time.Time) {
	l.logMu.Lock()
	defer l.logMu.Unlock()
	l.log = append(l.log, domain.ReservationLogEntry{
		Sequence:           len(l.log) + 1,
		ReservationID:      reservationID,
		Action:             action,
		PartNumber:         rec.PartNumber,
		Quantity:           qty,
		Requester:          requester,
		Timestamp:          at,
		TotalReserved:      rec.ReservedQuantity,
		RemainingAvailable: rec.NetAvailable(),
	})
}
