package tools

/*
Registry - единая точка вызова инструментов агента.

Пайплайн Invoke:
 1. Поиск дескриптора по имени.
 2. Приведение аргументов по InputSchema (строки "5", json.Number, float без дробной части).
 3. Вызов обработчика с перехватом паники.
 4. Результат в форме {success, data} или {success:false, error, kind, details}.
 5. Аудит и метрики вызова.

Сервисы о реестре не знают: наборы инструментов собираются поверх них.
*/

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, args Args) (any, error)

type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema []ParamSpec `json:"input_schema"`
	Handler     Handler     `json:"-"`
}

// Result - JSON-сериализуемый ответ инструмента. Data может сопровождать и отказ
// (например, итог заявки, упавшей на шаге выбора машины).
type Result struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Kind    domain.Kind    `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func failure(err *domain.Error) Result {
	return Result{Error: err.Error(), Kind: err.Kind, Details: err.Details}
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDescriptor
	order []string

	auditor audit.Auditor
	onCall  func(tool string, ok bool)
	logger  *zap.Logger
}

type Option func(*Registry)

func WithAuditor(a audit.Auditor) Option { return func(r *Registry) { r.auditor = a } }

// WithCallHook получает итог каждого вызова (например, Metrics.RecordTool).
func WithCallHook(fn func(tool string, ok bool)) Option { return func(r *Registry) { r.onCall = fn } }

func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]ToolDescriptor),
		logger: logger.Named("tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register добавляет инструменты. Пустое имя, nil-обработчик и повтор имени - ошибка.
func (r *Registry) Register(descs ...ToolDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descs {
		if d.Name == "" || d.Handler == nil {
			return fmt.Errorf("tool %q: name and handler are required", d.Name)
		}
		if _, dup := r.tools[d.Name]; dup {
			return fmt.Errorf("tool %q already registered", d.Name)
		}
		r.tools[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return nil
}

// List - дескрипторы в порядке регистрации (то, что видит планировщик).
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) Get(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Invoke никогда не паникует и не возвращает error: любой отказ - это Result.
func (r *Registry) Invoke(ctx context.Context, name string, raw map[string]any) (res Result) {
	start := time.Now()
	event := audit.Event{
		ID:        uuid.New().String(),
		TraceID:   engine.TraceIDFromContext(ctx),
		Actor:     ActorFromContext(ctx),
		Action:    name,
		Entity:    entityOf(raw),
		Channel:   channelFromContext(ctx),
		Payload:   raw,
		Timestamp: start,
	}

	defer func() {
		event.DurationMs = time.Since(start).Milliseconds()
		event.Response = res
		if res.Success {
			event.Status = "SUCCESS"
		} else {
			event.Status = "FAILED"
			event.Error = res.Error
		}
		if r.auditor != nil {
			r.auditor.Log(event)
		}
		if r.onCall != nil {
			r.onCall(name, res.Success)
		}
	}()

	d, ok := r.Get(name)
	if !ok {
		return failure(domain.NewError(domain.KindNotFound, "tools.invoke", name, "unknown tool %q", name))
	}

	args, err := coerce(name, d.InputSchema, raw)
	if err != nil {
		return failure(err)
	}

	data, callErr := r.call(ctx, d, args)
	if callErr != nil {
		res = failure(domain.AsError(callErr, "tools."+name))
		if meaningful(data) {
			res.Data = data // частичный результат, например *engine.Outcome упавшей заявки
		}
		return res
	}
	return Result{Success: true, Data: data}
}

func (r *Registry) call(ctx context.Context, d ToolDescriptor, args Args) (data any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panic",
				zap.String("tool", d.Name),
				zap.Any("panic", p))
			data = nil
			err = domain.NewError(domain.KindInternal, "tools."+d.Name, d.Name, "internal error in tool %s: %v", d.Name, p)
		}
	}()
	return d.Handler(ctx, args)
}

// meaningful - не nil и не нулевое значение: пустые структуры при отказе не отдаем.
func meaningful(v any) bool {
	return v != nil && !reflect.ValueOf(v).IsZero()
}

// entityOf вытаскивает главный идентификатор для журнала аудита.
func entityOf(raw map[string]any) string {
	for _, key := range []string{"part_number", "vehicle_id", "request_id", "approval_request_id"} {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type ctxKey string

const (
	actorKey   ctxKey = "tool_actor"
	channelKey ctxKey = "tool_channel"
)

// WithActor помечает, кто вызывает инструменты (X-Agent-ID, x-agent-id в gRPC).
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey).(string); ok && a != "" {
		return a
	}
	return "agent"
}

// WithChannel - транспорт вызова для журнала аудита.
func WithChannel(ctx context.Context, ch string) context.Context {
	return context.WithValue(ctx, channelKey, ch)
}

func channelFromContext(ctx context.Context) string {
	if ch, ok := ctx.Value(channelKey).(string); ok {
		return ch
	}
	return audit.ChannelTool
}
