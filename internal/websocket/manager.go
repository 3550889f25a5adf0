package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/service"
	"github.com/Tonic56/stock-trading-simulator/storage/redis"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// QuoteFeed delivers quote updates for the symbols it was asked to follow.
type QuoteFeed interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
}

type Client struct {
	Manager *Manager
	Conn    *websocket.Conn
	UserID  uuid.UUID
	Send    chan []byte
}

// Manager keeps one live connection per user and pushes a fresh portfolio
// valuation whenever a quote for one of the user's holdings changes.
type Manager struct {
	clients         map[uuid.UUID]*Client
	mu              sync.RWMutex
	register        chan *Client
	unregister      chan *Client
	log             *slog.Logger
	feed            QuoteFeed
	messages        <-chan redis.Message
	portfolio       service.PortfolioService
	symbolFollowers map[string]map[uuid.UUID]bool
	followedSymbols map[uuid.UUID]map[string]bool
}

// NewManager builds a manager. feed and messages may be nil, in which case
// clients only receive pushes on connect and after their own trades.
func NewManager(log *slog.Logger, feed QuoteFeed, messages <-chan redis.Message, portfolio service.PortfolioService) *Manager {
	return &Manager{
		clients:         make(map[uuid.UUID]*Client),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		log:             log,
		feed:            feed,
		messages:        messages,
		portfolio:       portfolio,
		symbolFollowers: make(map[string]map[uuid.UUID]bool),
		followedSymbols: make(map[uuid.UUID]map[string]bool),
	}
}

func (m *Manager) Run(ctx context.Context) {
	if m.messages != nil {
		go m.listenToQuotes(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			m.log.Info("websocket manager run loop stopping")
			return
		case client := <-m.register:
			m.registerClient(ctx, client)
		case client := <-m.unregister:
			m.unregisterClient(ctx, client)
		}
	}
}

func (m *Manager) listenToQuotes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.messages:
			if !ok {
				m.log.Warn("quote feed closed")
				return
			}
			m.pushToFollowers(ctx, msg.Symbol)
		}
	}
}

func (m *Manager) Register(client *Client) {
	m.register <- client
}

func (m *Manager) Unregister(client *Client) {
	m.unregister <- client
}

// Refresh pushes the user's current portfolio and follows any newly held
// symbols. It is a no-op for users without a live connection.
func (m *Manager) Refresh(ctx context.Context, userID uuid.UUID) {
	m.mu.RLock()
	_, connected := m.clients[userID]
	m.mu.RUnlock()
	if !connected {
		return
	}
	m.push(ctx, userID, m.portfolio.ValuePortfolio)
}

func (m *Manager) registerClient(ctx context.Context, client *Client) {
	m.mu.Lock()
	if old, exists := m.clients[client.UserID]; exists {
		m.log.Warn("client re-registering, closing old connection", "userID", client.UserID)
		close(old.Send)
		old.Conn.Close()
	}
	m.clients[client.UserID] = client
	m.mu.Unlock()

	m.log.Info("live portfolio client registered", "userID", client.UserID)
	// Valuing may wait on the provider; the run loop must keep serving.
	go m.push(ctx, client.UserID, m.portfolio.ValuePortfolio)
}

func (m *Manager) unregisterClient(ctx context.Context, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A stale reader of a replaced connection must not drop the new one.
	if current, ok := m.clients[client.UserID]; !ok || current != client {
		return
	}
	delete(m.clients, client.UserID)
	m.unfollowAll(ctx, client.UserID)
	m.log.Info("live portfolio client unregistered", "userID", client.UserID)
}

type valuation func(ctx context.Context, userID uuid.UUID) (*models.PortfolioView, error)

// push values the user's portfolio, follows its symbols and sends it.
func (m *Manager) push(ctx context.Context, userID uuid.UUID, value valuation) {
	view, err := value(ctx, userID)
	if err != nil {
		m.log.Error("failed to value portfolio for live push", "userID", userID, slog.Any("error", err))
		return
	}

	payload, err := json.Marshal(view.Display())
	if err != nil {
		m.log.Error("failed to marshal portfolio view", "userID", userID, slog.Any("error", err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[userID]
	if !ok {
		return
	}
	for _, h := range view.Holdings {
		m.follow(ctx, userID, h.Symbol)
	}

	select {
	case client.Send <- payload:
	default:
		m.log.Warn("client send channel is full, dropping message", "userID", userID)
	}
}

func (m *Manager) pushToFollowers(ctx context.Context, symbol string) {
	m.mu.RLock()
	followers := make([]uuid.UUID, 0, len(m.symbolFollowers[symbol]))
	for userID := range m.symbolFollowers[symbol] {
		followers = append(followers, userID)
	}
	m.mu.RUnlock()

	// Cached prices only: a refresh here would publish again and feed
	// this loop.
	for _, userID := range followers {
		m.push(ctx, userID, m.portfolio.ValueCachedPortfolio)
	}
}

// follow must be called with mu held.
func (m *Manager) follow(ctx context.Context, userID uuid.UUID, symbol string) {
	if m.followedSymbols[userID][symbol] {
		return
	}
	if _, ok := m.symbolFollowers[symbol]; !ok {
		m.symbolFollowers[symbol] = make(map[uuid.UUID]bool)
		if m.feed != nil {
			// The feed listener lives as long as the subscription, not the
			// request that happened to add it.
			if err := m.feed.Subscribe(context.WithoutCancel(ctx), symbol); err != nil {
				m.log.Error("could not subscribe to quote stream", "symbol", symbol, "error", err)
			}
		}
	}
	m.symbolFollowers[symbol][userID] = true

	if _, ok := m.followedSymbols[userID]; !ok {
		m.followedSymbols[userID] = make(map[string]bool)
	}
	m.followedSymbols[userID][symbol] = true
}

// unfollowAll must be called with mu held.
func (m *Manager) unfollowAll(ctx context.Context, userID uuid.UUID) {
	for symbol := range m.followedSymbols[userID] {
		users := m.symbolFollowers[symbol]
		delete(users, userID)
		if len(users) > 0 {
			continue
		}

		delete(m.symbolFollowers, symbol)
		if m.feed != nil {
			if err := m.feed.Unsubscribe(context.WithoutCancel(ctx), symbol); err != nil {
				m.log.Error("failed to unsubscribe from quote stream", "symbol", symbol, "error", err)
			}
		}
	}
	delete(m.followedSymbols, userID)
}

// Followers reports how many connected users follow symbol.
func (m *Manager) Followers(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.symbolFollowers[symbol])
}

func (c *Client) Writer() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Manager.log.Warn("failed to write message to client", "userID", c.UserID)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Reader() {
	defer func() {
		c.Manager.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Manager.log.Warn("unexpected close error", "userID", c.UserID, "error", err)
			}
			break
		}
	}
}
