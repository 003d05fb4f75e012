package domain

import (
	"errors"
	"fmt"
)

// Kind классифицирует доменный отказ. Ошибки - это данные:
// они пересекают границы сервисов как значения и рендерятся в {success:false}.
type Kind string

const (
	KindNotFound           Kind = "NotFound"
	KindInsufficientStock  Kind = "InsufficientStock"
	KindCapacityExceeded   Kind = "CapacityExceeded"
	KindInvalidInput       Kind = "InvalidInput"
	KindMissingField       Kind = "MissingField"
	KindNotAvailable       Kind = "NotAvailable"
	KindNoActiveAssignment Kind = "NoActiveAssignment"
	KindRouteNotFound      Kind = "RouteNotFound"
	KindNoSuitableVehicle  Kind = "NoSuitableVehicle"
	KindOverRelease        Kind = "OverRelease"
	KindAuthorityMismatch  Kind = "AuthorityMismatch"
	KindNotPending         Kind = "NotPending"
	KindExternalService    Kind = "ExternalServiceUnavailable"
	KindInternal           Kind = "Internal"

	// Оркестрация
	KindApprovalPending  Kind = "ApprovalPending"
	KindApprovalRejected Kind = "ApprovalRejected"
	KindAlreadyClaimed   Kind = "AlreadyClaimed"
)

// Error - структурированный доменный отказ.
type Error struct {
	Kind    Kind           `json:"kind"`
	Op      string         `json:"op,omitempty"`     // Операция, например "inventory.reserve"
	Entity  string         `json:"entity,omitempty"` // Номер детали, ID машины или заявки
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Сентинелы для errors.Is: сравнение идет только по Kind.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInsufficientStock  = &Error{Kind: KindInsufficientStock}
	ErrCapacityExceeded   = &Error{Kind: KindCapacityExceeded}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrMissingField       = &Error{Kind: KindMissingField}
	ErrNotAvailable       = &Error{Kind: KindNotAvailable}
	ErrNoActiveAssignment = &Error{Kind: KindNoActiveAssignment}
	ErrRouteNotFound      = &Error{Kind: KindRouteNotFound}
	ErrNoSuitableVehicle  = &Error{Kind: KindNoSuitableVehicle}
	ErrOverRelease        = &Error{Kind: KindOverRelease}
	ErrAuthorityMismatch  = &Error{Kind: KindAuthorityMismatch}
	ErrNotPending         = &Error{Kind: KindNotPending}
	ErrExternalService    = &Error{Kind: KindExternalService}
	ErrInternal           = &Error{Kind: KindInternal}
	ErrApprovalPending    = &Error{Kind: KindApprovalPending}
	ErrApprovalRejected   = &Error{Kind: KindApprovalRejected}
	ErrAlreadyClaimed     = &Error{Kind: KindAlreadyClaimed}
)

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Entity)
	}
	return string(e.Kind)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// With добавляет деталь (shortage, overage и т.п.) и возвращает ту же ошибку.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError собирает ошибку с форматированным сообщением.
func NewError(kind Kind, op, entity, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Entity:  entity,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf достает Kind из цепочки ошибок. Всё неизвестное - Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError приводит произвольную ошибку к структурированному виду.
func AsError(err error, op string) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindInternal, Op: op, Message: err.Error()}
}
