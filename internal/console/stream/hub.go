// Package stream транслирует события заявок подписчикам по WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Пульт оператора ходит с другого origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client - одно подключение подписчика.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub держит активных подписчиков и рассылает им события.
// Медленный клиент с переполненным буфером отключается, заявки его не ждут.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("event-stream"),
	}
}

// Run - цикл диспетчеризации. Завершается с ctx, закрывая всех клиентов.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("subscriber connected", zap.Int("subscribers", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("subscriber disconnected", zap.Int("subscribers", len(h.clients)))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("slow subscriber dropped")
				}
			}
		}
	}
}

// OnEvent - наблюдатель оркестратора. Не блокируется: при полном буфере событие теряется.
func (h *Hub) OnEvent(_ context.Context, ev engine.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.logger.Warn("event stream buffer full, event dropped",
			zap.String("fulfillment_id", ev.FulfillmentID),
			zap.String("state", string(ev.State)))
	}
}

// ServeWS поднимает WebSocket и подписывает клиента на события.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// writePump пишет сообщения хаба в соединение: одно событие - один кадр
func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump только держит соединение и ловит закрытие со стороны клиента
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}
