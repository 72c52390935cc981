package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stream-queue-system/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer in front
	},
}

// Subscriber is the consuming side of the fanout broker.
type Subscriber interface {
	Consume(ctx context.Context, handler func(events.Event) error) error
}

type member struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex // serializes writes to the connection
}

func (m *member) send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// Gateway holds live viewer connections grouped by room and delivers
// broker events to the members of the tagged room. Membership is purely
// in-process; the broker is what makes fanout work across instances.
type Gateway struct {
	rooms map[string]map[string]*member
	mu    sync.RWMutex
	log   *zap.Logger
}

func NewGateway(log *zap.Logger) *Gateway {
	return &Gateway{
		rooms: make(map[string]map[string]*member),
		log:   log,
	}
}

// Run consumes broker events until the context is done. Broker outages are
// retried with a flat backoff; missed events are acceptable, clients can
// refetch.
func (g *Gateway) Run(ctx context.Context, sub Subscriber) {
	for {
		err := sub.Consume(ctx, func(event events.Event) error {
			g.broadcast(event.RoomID, event)
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		g.log.Warn("broker consume failed, retrying", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// HandleWebSocket upgrades the request and joins the connection to the
// room until it disconnects. Clients re-join after a reconnect; there is
// no session resumption.
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	g.join(roomID, connID, &member{conn: conn, userID: c.GetString("user_id")})
	defer g.leave(roomID, connID)

	// Events flow server to client only; the read loop just detects
	// disconnects and services control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Debug("websocket read failed", zap.String("room", roomID), zap.Error(err))
			}
			return
		}
	}
}

func (g *Gateway) join(roomID, connID string, m *member) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.rooms[roomID]; !exists {
		g.rooms[roomID] = make(map[string]*member)
	}
	g.rooms[roomID][connID] = m
	g.log.Debug("viewer joined room", zap.String("room", roomID), zap.String("user", m.userID))
}

func (g *Gateway) leave(roomID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, exists := g.rooms[roomID]; exists {
		if m, exists := room[connID]; exists {
			m.conn.Close()
			delete(room, connID)
			g.log.Debug("viewer left room", zap.String("room", roomID), zap.String("user", m.userID))
		}
		if len(room) == 0 {
			delete(g.rooms, roomID)
		}
	}
}

func (g *Gateway) broadcast(roomID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		g.log.Warn("failed to marshal event", zap.Error(err))
		return
	}

	g.mu.RLock()
	room := g.rooms[roomID]
	members := make([]*member, 0, len(room))
	for _, m := range room {
		members = append(members, m)
	}
	g.mu.RUnlock()

	for _, m := range members {
		if err := m.send(data); err != nil {
			g.log.Debug("failed to deliver event", zap.String("room", roomID), zap.Error(err))
		}
	}
}
