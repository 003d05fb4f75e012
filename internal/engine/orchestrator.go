package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agv-logistics-coordinator/internal/advisor"
	"github.com/xela07ax/agv-logistics-coordinator/internal/approval"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/fleet"
	"github.com/xela07ax/agv-logistics-coordinator/internal/inventory"
	"go.uber.org/zap"
)

// FulfillmentBackend - единственная точка входа для адаптеров (HTTP, инструменты, redis).
type FulfillmentBackend interface {
	Fulfill(ctx context.Context, req FulfillmentRequest) (*Outcome, error)
	Resume(ctx context.Context, approvalRequestID string) (*Outcome, error)
}

type Inventory interface {
	CheckAvailability(partNumber string, quantity int) (inventory.Availability, error)
	ReserveQuantity(partNumber string, quantity int, requester string) (inventory.ReservationReceipt, error)
	ReleaseOwn(partNumber string, quantity int, requester string) (inventory.ReleaseReceipt, error)
	IssueOwn(partNumber string, quantity int, requester string) (inventory.ReleaseReceipt, error)
	HeldBy(partNumber, requester string) (int, error)
	GetAlternativeParts(partNumber string) []inventory.AlternativePart
}

type Fleet interface {
	FindOptimalVehicle(quantity int, from, to string) (fleet.Selection, error)
	DispatchVehicle(vehicleID string, task domain.TaskDetails, requester string) (domain.DispatchRecord, error)
	CompleteTask(vehicleID string, details map[string]any) (domain.DispatchRecord, error)
}

type Approvals interface {
	CreateReviewedRequest(details approval.RequestDetails, requester string) (domain.ApprovalRequest, approval.Review, error)
	ClaimResolved(id string) (domain.ApprovalRequest, error)
}

type FulfillmentRequest struct {
	ID          string `json:"fulfillment_id,omitempty"`
	PartNumber  string `json:"part_number"`
	Quantity    int    `json:"quantity_requested"`
	Destination string `json:"destination"`
	Priority    string `json:"priority,omitempty"`
	Requester   string `json:"requester,omitempty"`
	Description string `json:"description,omitempty"`
}

type Failure struct {
	Step         State                       `json:"step"`
	Entity       string                      `json:"entity,omitempty"`
	Kind         domain.Kind                 `json:"kind"`
	Message      string                      `json:"message"`
	Details      map[string]any              `json:"details,omitempty"`
	Alternatives []inventory.AlternativePart `json:"alternatives,omitempty"`
}

type Compensation struct {
	Action     string `json:"action"`
	PartNumber string `json:"part_number"`
	Quantity   int    `json:"quantity"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Outcome - агрегированный результат одной заявки.
type Outcome struct {
	ID            string                        `json:"fulfillment_id"`
	State         State                         `json:"state"`
	Request       FulfillmentRequest            `json:"request"`
	Availability  *inventory.Availability       `json:"availability,omitempty"`
	Reservation   *inventory.ReservationReceipt `json:"reservation,omitempty"`
	Approval      *domain.ApprovalRequest       `json:"approval,omitempty"`
	Review        *approval.Review              `json:"review,omitempty"`
	Selection     *fleet.Selection              `json:"selection,omitempty"`
	Dispatch      *domain.DispatchRecord        `json:"dispatch,omitempty"`
	Completion    *domain.DispatchRecord        `json:"completion,omitempty"`
	Issued        *inventory.ReleaseReceipt     `json:"issued,omitempty"`
	PartsCost     float64                       `json:"parts_cost"`
	TripCost      float64                       `json:"trip_cost"`
	TotalCost     float64                       `json:"total_cost"`
	Insights      []advisor.Advice              `json:"insights,omitempty"`
	Compensations []Compensation                `json:"compensations,omitempty"`
	Failure       *Failure                      `json:"failure,omitempty"`
	StartedAt     time.Time                     `json:"started_at"`
	FinishedAt    *time.Time                    `json:"finished_at,omitempty"`
}

// Ключи контекста приостановленной заявки в ApprovalRequest.Metadata
const (
	metaFulfillmentID = "fulfillment_id"
	metaPart          = "part_number"
	metaQuantity      = "quantity"
	metaDestination   = "destination"
	metaSource        = "source_location"
	metaPriority      = "priority"
	metaRequester     = "requester"
	metaUnitCost      = "unit_cost"
)

const requestType = "inventory_request"

// Orchestrator не хранит состояния между вызовами: контекст ожидающей заявки
// живет в ApprovalRequest и брони детали.
type Orchestrator struct {
	inv       Inventory
	fleet     Fleet
	approvals Approvals

	advisor   *advisor.Advisor
	observer  Observer
	confirmer DeliveryConfirmer
	metrics   *Metrics
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Orchestrator)

func WithAdvisor(a *advisor.Advisor) Option { return func(o *Orchestrator) { o.advisor = a } }
func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }
func WithConfirmer(c DeliveryConfirmer) Option { return func(o *Orchestrator) { o.confirmer = c } }
func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(inv Inventory, fl Fleet, ap Approvals, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		inv:       inv,
		fleet:     fl,
		approvals: ap,
		observer:  nopObserver{},
		confirmer: ImmediateConfirmer{},
		now:       time.Now,
		logger:    logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

func requesterTag(fulfillmentID string) string { return "fulfillment/" + fulfillmentID }

func validateRequest(req FulfillmentRequest) error {
	const op = "fulfillment.validate"
	switch {
	case strings.TrimSpace(req.PartNumber) == "":
		return domain.NewError(domain.KindMissingField, op, "", "part_number is required").With("field", "part_number")
	case strings.TrimSpace(req.Destination) == "":
		return domain.NewError(domain.KindMissingField, op, "", "destination is required").With("field", "destination")
	case req.Quantity <= 0:
		return domain.NewError(domain.KindInvalidInput, op, "", "quantity_requested must be positive, got %d", req.Quantity).
			With("field", "quantity_requested")
	}
	if _, ok := domain.ParsePriority(req.Priority); !ok {
		return domain.NewError(domain.KindInvalidInput, op, "", "unknown priority %q", req.Priority).With("field", "priority")
	}
	return nil
}

// Fulfill проводит заявку через автомат. Ошибка != nil тогда и только тогда,
// когда итоговое состояние ERRORED. APPROVAL_GATED - штатная приостановка.
func (o *Orchestrator) Fulfill(ctx context.Context, req FulfillmentRequest) (out *Outcome, err error) {
	if req.ID == "" {
		req.ID = "FUL-" + uuid.New().String()[:8]
	}
	if p, ok := domain.ParsePriority(req.Priority); ok {
		req.Priority = string(p)
	}
	if req.Requester == "" {
		req.Requester = "orchestrator"
	}
	out = &Outcome{ID: req.ID, Request: req, StartedAt: o.now()}
	defer o.recoverFault(ctx, out, &err)

	o.emit(ctx, out, StateReceived, fmt.Sprintf("fulfillment received: %d x %s to %s", req.Quantity, req.PartNumber, req.Destination), nil)
	if err := validateRequest(req); err != nil {
		return o.fail(ctx, out, StateReceived, err)
	}

	// 1. Наличие
	start := o.now()
	av, err := o.inv.CheckAvailability(req.PartNumber, req.Quantity)
	o.observeStep(StateAvailabilityChecked, start, err)
	if err != nil {
		return o.fail(ctx, out, StateAvailabilityChecked, err)
	}
	out.Availability = &av
	out.PartsCost = av.TotalCost
	if !av.CanFulfill {
		shortage := domain.NewError(domain.KindInsufficientStock, "fulfillment.check", req.PartNumber,
			"insufficient stock for %s: requested %d, net available %d", req.PartNumber, req.Quantity, av.NetAvailable).
			With("shortage", av.Shortage).
			With("net_available", av.NetAvailable)
		return o.fail(ctx, out, StateAvailabilityChecked, shortage)
	}
	o.emit(ctx, out, StateAvailabilityChecked, fmt.Sprintf("%d available at %s", av.NetAvailable, av.WarehouseLocation),
		map[string]any{"net_available": av.NetAvailable, "warehouse_location": av.WarehouseLocation})
	if o.advisor != nil {
		o.addInsight(out, o.advisor.AnalyzeAvailability(ctx, av))
	}

	// 2. Бронь строго до поиска машины
	start = o.now()
	rsv, err := o.inv.ReserveQuantity(req.PartNumber, req.Quantity, requesterTag(req.ID))
	o.observeStep(StateReserved, start, err)
	if err != nil {
		return o.fail(ctx, out, StateReserved, err)
	}
	out.Reservation = &rsv
	o.emit(ctx, out, StateReserved, fmt.Sprintf("reserved %d x %s", req.Quantity, req.PartNumber),
		map[string]any{"reservation_id": rsv.Reservation.ID, "remaining_available": rsv.RemainingAvailable})

	// 3. Согласование по предварительной стоимости деталей
	start = o.now()
	details := approval.RequestDetails{
		Cost:        av.TotalCost,
		Description: o.describe(req),
		RequestType: requestType,
		Priority:    req.Priority,
		Metadata: map[string]string{
			metaFulfillmentID: req.ID,
			metaPart:          req.PartNumber,
			metaQuantity:      strconv.Itoa(req.Quantity),
			metaDestination:   req.Destination,
			metaSource:        av.WarehouseLocation,
			metaPriority:      req.Priority,
			metaRequester:     req.Requester,
			metaUnitCost:      strconv.FormatFloat(av.UnitCost, 'f', -1, 64),
		},
	}
	appr, rv, err := o.approvals.CreateReviewedRequest(details, req.Requester)
	o.observeStep(StateApprovalEvaluated, start, err)
	if err != nil {
		return o.failAndRelease(ctx, out, StateApprovalEvaluated, err)
	}
	out.Approval = &appr
	out.Review = &rv
	o.emit(ctx, out, StateApprovalEvaluated, fmt.Sprintf("approval %s: %s (%s)", appr.ID, rv.Decision, appr.Status),
		map[string]any{"approval_id": appr.ID, "decision": string(rv.Decision), "risk_level": string(rv.Risk.Level)})
	if o.advisor != nil {
		o.addInsight(out, o.advisor.AnalyzeRisk(ctx, details, rv))
	}

	if appr.Status == domain.StatusPending {
		required := "manager"
		if appr.Threshold.RequiresDirector {
			required = "director"
		}
		o.emit(ctx, out, StateApprovalGated, fmt.Sprintf("awaiting %s approval of %s", required, appr.ID),
			map[string]any{"approval_id": appr.ID, "required_authority": required, "cost": appr.Cost})
		return out, nil
	}

	// Автоодобрение: забираем заявку сразу, чтобы Resume не запустил ее второй раз
	claimed, err := o.approvals.ClaimResolved(appr.ID)
	if err != nil {
		return o.failAndRelease(ctx, out, StateApprovalEvaluated, err)
	}
	out.Approval = &claimed

	return o.deliver(ctx, out, av.WarehouseLocation)
}

// Resume продолжает приостановленную заявку по id согласования.
func (o *Orchestrator) Resume(ctx context.Context, approvalRequestID string) (out *Outcome, err error) {
	out = &Outcome{StartedAt: o.now()}
	defer o.recoverFault(ctx, out, &err)

	appr, err := o.approvals.ClaimResolved(approvalRequestID)
	req, source, ok := requestFromMetadata(appr.Metadata)
	out.ID, out.Request = req.ID, req
	if appr.ID != "" {
		out.Approval = &appr
		out.PartsCost = appr.Cost
	}

	switch {
	case errors.Is(err, domain.ErrApprovalPending) && ok:
		out.State = StateApprovalGated
		return out, nil
	case err != nil:
		return o.fail(ctx, out, StateApprovalEvaluated, err)
	case !ok:
		return o.fail(ctx, out, StateApprovalEvaluated, domain.NewError(domain.KindInvalidInput, "fulfillment.resume",
			approvalRequestID, "approval request %s does not belong to a fulfillment", approvalRequestID))
	}

	// Для восстановления компенсации нужна бронь заявки
	out.Reservation = &inventory.ReservationReceipt{Reservation: domain.Reservation{
		PartNumber: req.PartNumber,
		Quantity:   req.Quantity,
		Requester:  requesterTag(req.ID),
	}}

	if appr.Status == domain.StatusRejected {
		rejected := domain.NewError(domain.KindApprovalRejected, "fulfillment.resume", appr.ID,
			"approval %s rejected by %s", appr.ID, appr.Approver).
			With("approver", appr.Approver)
		return o.failAndRelease(ctx, out, StateApprovalEvaluated, rejected)
	}

	// Пока заявка ждала решения, бронь могла истечь
	if err := o.ensureReservation(ctx, out); err != nil {
		return o.failAndRelease(ctx, out, StateReserved, err)
	}
	return o.deliver(ctx, out, source)
}

// ensureReservation добирает недостающую бронь заявки. Чужие брони не используются.
func (o *Orchestrator) ensureReservation(ctx context.Context, out *Outcome) error {
	pn, tag, qty := out.Request.PartNumber, requesterTag(out.ID), out.Request.Quantity
	held, err := o.inv.HeldBy(pn, tag)
	if err != nil {
		return err
	}
	if held >= qty {
		return nil
	}

	short := qty - held
	rsv, err := o.inv.ReserveQuantity(pn, short, tag)
	if err != nil {
		return domain.AsError(err, "fulfillment.resume").With("held", held)
	}
	o.logger.Warn("reservation expired while awaiting approval, re-reserved",
		zap.String("fulfillment_id", out.ID),
		zap.String("part_number", pn),
		zap.Int("held", held),
		zap.Int("re_reserved", short))
	o.emit(ctx, out, StateReserved, fmt.Sprintf("re-reserved %d x %s after expiry", short, pn),
		map[string]any{"reservation_id": rsv.Reservation.ID, "remaining_available": rsv.RemainingAvailable})
	return nil
}

// deliver - общий хвост после допуска: машина, отправка, подтверждение, списание.
func (o *Orchestrator) deliver(ctx context.Context, out *Outcome, source string) (*Outcome, error) {
	req := out.Request
	o.emit(ctx, out, StateApprovalCleared, "approval cleared", map[string]any{"approver": out.Approval.Approver})

	if err := ctx.Err(); err != nil {
		return o.failAndRelease(ctx, out, StateApprovalCleared, err)
	}

	// 4. Выбор машины: источник берется дословно из ответа склада
	start := o.now()
	sel, err := o.fleet.FindOptimalVehicle(req.Quantity, source, req.Destination)
	o.observeStep(StateVehicleSelected, start, err)
	if err != nil {
		return o.failAndRelease(ctx, out, StateVehicleSelected, err)
	}
	out.Selection = &sel
	out.TripCost = sel.Selected.EstimatedCost
	out.TotalCost = domain.Sum(out.PartsCost, out.TripCost)
	o.emit(ctx, out, StateVehicleSelected, fmt.Sprintf("%s selected (score %.3f)", sel.Selected.Vehicle.ID, sel.Selected.EfficiencyScore),
		map[string]any{"vehicle_id": sel.Selected.Vehicle.ID, "trip_cost": sel.Selected.EstimatedCost})
	if o.advisor != nil {
		o.addInsight(out, o.advisor.ExplainSelection(ctx, sel))
	}

	// 5. Отправка
	start = o.now()
	task := domain.TaskDetails{
		SourceLocation: source,
		Destination:    req.Destination,
		Quantity:       req.Quantity,
		PartNumber:     req.PartNumber,
		Description:    o.describe(req),
		Priority:       req.Priority,
	}
	d, err := o.fleet.DispatchVehicle(sel.Selected.Vehicle.ID, task, requesterTag(req.ID))
	o.observeStep(StateDispatched, start, err)
	if err != nil {
		return o.failAndRelease(ctx, out, StateDispatched, err)
	}
	out.Dispatch = &d
	o.emit(ctx, out, StateDispatched, fmt.Sprintf("%s dispatched, task %d", d.VehicleID, d.ID),
		map[string]any{"vehicle_id": d.VehicleID, "dispatch_id": d.ID, "eta": d.EstimatedCompletion})

	// 6. Подтверждение доставки. Машина уже в пути: бронь не снимаем
	start = o.now()
	confirmation, err := o.confirmer.Confirm(ctx, d)
	if err != nil {
		o.observeStep(StateCompleted, start, err)
		return o.fail(ctx, out, StateDispatched, domain.NewError(domain.KindInternal, "fulfillment.confirm", d.VehicleID,
			"delivery confirmation failed: %v", err).With("dispatch_id", d.ID))
	}
	done, err := o.fleet.CompleteTask(d.VehicleID, confirmation)
	if err != nil {
		o.observeStep(StateCompleted, start, err)
		return o.fail(ctx, out, StateDispatched, err)
	}
	out.Completion = &done

	issued, err := o.inv.IssueOwn(req.PartNumber, req.Quantity, requesterTag(req.ID))
	o.observeStep(StateCompleted, start, err)
	if err != nil {
		return o.fail(ctx, out, StateCompleted, err)
	}
	out.Issued = &issued

	o.finish(out, StateCompleted)
	o.emit(ctx, out, StateCompleted, fmt.Sprintf("delivered %d x %s to %s", req.Quantity, req.PartNumber, req.Destination),
		map[string]any{"total_cost": out.TotalCost})
	return out, nil
}

func (o *Orchestrator) describe(req FulfillmentRequest) string {
	if req.Description != "" {
		return req.Description
	}
	return fmt.Sprintf("Fulfillment %s: %d x %s to %s", req.ID, req.Quantity, req.PartNumber, req.Destination)
}

func requestFromMetadata(meta map[string]string) (FulfillmentRequest, string, bool) {
	id := meta[metaFulfillmentID]
	qty, err := strconv.Atoi(meta[metaQuantity])
	if id == "" || err != nil || meta[metaPart] == "" {
		return FulfillmentRequest{ID: id}, "", false
	}
	return FulfillmentRequest{
		ID:          id,
		PartNumber:  meta[metaPart],
		Quantity:    qty,
		Destination: meta[metaDestination],
		Priority:    meta[metaPriority],
		Requester:   meta[metaRequester],
	}, meta[metaSource], true
}

// failAndRelease - компенсирующее действие: бронь снимается до сообщения об ошибке.
func (o *Orchestrator) failAndRelease(ctx context.Context, out *Outcome, step State, cause error) (*Outcome, error) {
	o.compensate(ctx, out)
	return o.fail(ctx, out, step, cause)
}

func (o *Orchestrator) compensate(ctx context.Context, out *Outcome) {
	if out.Reservation == nil {
		return
	}
	pn, tag := out.Request.PartNumber, requesterTag(out.ID)
	c := Compensation{Action: "release_reservation", PartNumber: pn}

	// Снимаем только то, что заявка держит сейчас: часть брони могла истечь
	held, err := o.inv.HeldBy(pn, tag)
	if err == nil {
		c.Quantity = min(held, out.Request.Quantity)
		if c.Quantity > 0 {
			_, err = o.inv.ReleaseOwn(pn, c.Quantity, tag)
		}
	}
	if err != nil {
		c.Error = err.Error()
		o.logger.Error("compensating release failed",
			zap.String("fulfillment_id", out.ID),
			zap.String("part_number", pn),
			zap.Int("quantity", c.Quantity),
			zap.Error(err))
	} else {
		c.Success = true
	}
	out.Compensations = append(out.Compensations, c)
	out.Reservation = nil
}

func (o *Orchestrator) fail(ctx context.Context, out *Outcome, step State, cause error) (*Outcome, error) {
	derr := domain.AsError(cause, "fulfillment")
	f := &Failure{
		Step:    step,
		Entity:  derr.Entity,
		Kind:    derr.Kind,
		Message: derr.Message,
		Details: derr.Details,
	}
	if derr.Kind == domain.KindNotFound || derr.Kind == domain.KindInsufficientStock {
		if step == StateAvailabilityChecked || step == StateReserved {
			f.Alternatives = o.inv.GetAlternativeParts(out.Request.PartNumber)
		}
	}
	out.Failure = f
	o.metrics.ErrorTotal.WithLabelValues(string(step), string(derr.Kind)).Inc()

	o.finish(out, StateErrored)
	data := map[string]any{"step": string(step), "kind": string(derr.Kind)}
	if len(out.Compensations) > 0 {
		data["compensated"] = out.Compensations[len(out.Compensations)-1].Success
	}
	o.emit(ctx, out, StateErrored, derr.Message, data)
	return out, derr
}

// recoverFault переводит панику в структурированную ошибку Internal.
func (o *Orchestrator) recoverFault(ctx context.Context, out *Outcome, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	o.logger.Error("fulfillment panic", zap.String("fulfillment_id", out.ID), zap.Any("panic", r))
	step := out.State
	if step == "" {
		step = StateReceived
	}
	if out.Dispatch == nil {
		o.compensate(ctx, out)
	}
	_, *errp = o.fail(ctx, out, step, domain.NewError(domain.KindInternal, "fulfillment", out.ID, "internal fault: %v", r))
}

func (o *Orchestrator) finish(out *Outcome, state State) {
	now := o.now()
	out.State = state
	out.FinishedAt = &now
}

func (o *Orchestrator) emit(ctx context.Context, out *Outcome, state State, msg string, data map[string]any) {
	if state != StateErrored && state != StateCompleted {
		out.State = state
	}
	o.observer.OnEvent(ctx, Event{
		ID:            uuid.New().String(),
		FulfillmentID: out.ID,
		TraceID:       TraceIDFromContext(ctx),
		State:         state,
		Message:       msg,
		Data:          data,
		Timestamp:     o.now(),
	})
}

func (o *Orchestrator) addInsight(out *Outcome, adv advisor.Advice) {
	if adv.Degraded {
		o.metrics.AdvisorFallbacks.WithLabelValues(string(adv.Topic)).Inc()
	}
	out.Insights = append(out.Insights, adv)
}

func (o *Orchestrator) observeStep(step State, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.StepDuration.WithLabelValues(string(step), status).Observe(o.now().Sub(start).Seconds())
}
