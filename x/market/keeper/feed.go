package keeper

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/anomi-labs/p2pmarket/metrics"
	"github.com/anomi-labs/p2pmarket/x/market/types"
)

const (
	feedWriteWait  = 10 * time.Second
	feedSendBuffer = 256
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FeedEventType distinguishes the two event kinds a market emits.
type FeedEventType string

const (
	FeedEventTrade      FeedEventType = "trade"
	FeedEventSettlement FeedEventType = "settlement"
)

// FeedEvent is the JSON payload broadcast to subscribed clients.
type FeedEvent struct {
	Type   FeedEventType      `json:"type"`
	Market string             `json:"market"`
	Trade  *types.TradeRecord `json:"trade"`
}

// feedClient is one subscribed websocket connection, scoped to a single
// market.
type feedClient struct {
	id       string
	marketID string
	conn     *websocket.Conn
	send     chan []byte
}

func (c *feedClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// BookFeed broadcasts trade and settlement lifecycle events to
// subscribed websocket clients, one hub per keeper.
type BookFeed struct {
	logger  log.Logger
	metrics *metrics.Collector

	mu      sync.RWMutex
	clients map[*feedClient]bool

	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan FeedEvent
}

// NewBookFeed constructs and starts a feed's broadcast loop.
func NewBookFeed(logger log.Logger, collector *metrics.Collector) *BookFeed {
	f := &BookFeed{
		logger:     logger.With("component", "book_feed"),
		metrics:    collector,
		clients:    make(map[*feedClient]bool),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan FeedEvent, feedSendBuffer),
	}
	go f.run()
	return f
}

func (f *BookFeed) run() {
	for {
		select {
		case c := <-f.register:
			f.mu.Lock()
			f.clients[c] = true
			f.mu.Unlock()
			f.metrics.RecordWSConnection(c.marketID, 1)

		case c := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[c]; ok {
				delete(f.clients, c)
				close(c.send)
			}
			f.mu.Unlock()
			f.metrics.RecordWSConnection(c.marketID, -1)

		case event := <-f.broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				f.logger.Error("failed to marshal feed event", "err", err)
				continue
			}
			f.metrics.RecordWSMessage(string(event.Type))
			f.mu.RLock()
			for c := range f.clients {
				if c.marketID != "" && c.marketID != event.Market {
					continue
				}
				select {
				case c.send <- payload:
				default:
					f.logger.Debug("dropping slow feed client", "client", c.id)
				}
			}
			f.mu.RUnlock()
		}
	}
}

// PublishTrade broadcasts a newly recorded fill.
func (f *BookFeed) PublishTrade(tr *types.TradeRecord) {
	f.broadcast <- FeedEvent{Type: FeedEventTrade, Market: tr.MarketID, Trade: tr}
}

// PublishSettlement broadcasts a trade's transition to Verified.
func (f *BookFeed) PublishSettlement(tr *types.TradeRecord) {
	f.broadcast <- FeedEvent{Type: FeedEventSettlement, Market: tr.MarketID, Trade: tr}
}

// ServeHTTP upgrades the request to a websocket connection subscribed to
// the market named by the "market" query parameter (all markets if
// empty) and pumps broadcast events to it until the connection closes.
func (f *BookFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &feedClient{
		id:       uuid.New().String(),
		marketID: r.URL.Query().Get("market"),
		conn:     conn,
		send:     make(chan []byte, feedSendBuffer),
	}
	f.register <- client

	go func() {
		defer func() { f.unregister <- client }()
		client.writePump()
	}()
}
