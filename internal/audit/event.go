package audit

import "time"

// Каналы, через которые пришло действие
const (
	ChannelTool     = "tool"
	ChannelWorkflow = "workflow"
	ChannelGRPC     = "grpc"
	ChannelHTTP     = "http"
)

type Event struct {
	ID      string         `json:"id"`       // UUID события
	TraceID string         `json:"trace_id"` // Сквозной ID запроса
	Actor   string         `json:"actor"`    // Кто делал (агент, оператор, fulfillment/<id>)
	Action  string         `json:"action"`   // Имя инструмента или переход автомата
	Entity  string         `json:"entity"`   // Деталь, машина, заявка
	Channel string         `json:"channel"`
	Payload map[string]any `json:"payload"` // С какими данными

	// Результат
	Status     string    `json:"status"`   // "SUCCESS", "FAILED" или состояние автомата
	Response   any       `json:"response"` // Что вернули вызывающему
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error"`
}
