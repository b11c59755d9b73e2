// internal/web/websocket.go
package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"sensorqa/internal/database"
	"sensorqa/internal/metrics"
	"sensorqa/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message types pushed to websocket clients.
const (
	MsgRunStarted     = "run_started"
	MsgTestCompleted  = "test_completed"
	MsgSensorComplete = "sensor_completed"
	MsgFailover       = "failover"
	MsgRunFinished    = "run_finished"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type WSClient struct {
	conn *websocket.Conn
	send chan WSMessage
	hub  *Hub
}

// Hub fans run events out to connected websocket clients. It is both a
// fleet observer and a run listener.
type Hub struct {
	metrics *metrics.Collector

	mu      sync.Mutex
	clients map[*WSClient]bool
}

func NewHub(collector *metrics.Collector) *Hub {
	return &Hub{
		metrics: collector,
		clients: make(map[*WSClient]bool),
	}
}

func (h *Hub) register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection(1)
	}
}

func (h *Hub) unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.RecordWebSocketConnection(-1)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast drops clients whose send buffer is full.
func (h *Hub) broadcast(message WSMessage) {
	h.mu.Lock()
	var slow []*WSClient
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.Unlock()

	for _, client := range slow {
		logrus.Debug("Dropping slow websocket client")
		h.unregister(client)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		h.unregister(client)
	}
}

func (h *Hub) TestCompleted(sensor model.SensorEndpoint, category string, result model.TestResult) {
	h.broadcast(WSMessage{Type: MsgTestCompleted, Data: gin.H{
		"hostname": sensor.Hostname,
		"address":  sensor.Address,
		"category": category,
		"result":   result,
	}})
}

func (h *Hub) FailoverRecorded(record model.FailoverRecord) {
	h.broadcast(WSMessage{Type: MsgFailover, Data: record})
}

func (h *Hub) SensorCompleted(result model.SensorResult) {
	h.broadcast(WSMessage{Type: MsgSensorComplete, Data: gin.H{
		"hostname":   result.Hostname,
		"passed":     result.Count(model.StatusPassed),
		"failed":     result.Count(model.StatusFailed),
		"incomplete": result.Count(model.StatusIncomplete),
	}})
}

func (h *Hub) RunStarted(id string, sensors int) {
	h.broadcast(WSMessage{Type: MsgRunStarted, Data: gin.H{
		"id":      id,
		"sensors": sensors,
	}})
}

func (h *Hub) RunFinished(run *database.RunRecord) {
	h.broadcast(WSMessage{Type: MsgRunFinished, Data: gin.H{
		"id":      run.ID,
		"trigger": run.Trigger,
		"summary": run.Report.Summary,
		"ok":      run.Report.Summary.OK(),
	}})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade websocket")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WSMessage, 256),
		hub:  s.hub,
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.unregister(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
