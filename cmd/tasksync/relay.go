package main

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/tasksync/internal/events"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	clientBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only allow connections from localhost
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	},
}

// relayClient is one websocket connection.
type relayClient struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	relay *Relay

	mu            sync.RWMutex
	subscriptions map[events.Type]bool
}

// wants reports whether the client subscribed to typ. A client with no
// subscriptions receives everything.
func (c *relayClient) wants(typ events.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[typ]
}

// Envelope wraps every message sent to relay clients.
type Envelope struct {
	Type      events.Type  `json:"type"`
	Data      events.Event `json:"data"`
	Timestamp int64        `json:"timestamp"`
}

type relayMessage struct {
	typ     events.Type
	payload []byte
}

// Relay streams facade events to local websocket clients.
type Relay struct {
	clients    map[string]*relayClient
	broadcast  chan relayMessage
	register   chan *relayClient
	unregister chan *relayClient
	stopCh     chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewRelay creates a relay and starts its dispatch loop.
func NewRelay() *Relay {
	r := &Relay{
		clients:    make(map[string]*relayClient),
		broadcast:  make(chan relayMessage, clientBuffer),
		register:   make(chan *relayClient),
		unregister: make(chan *relayClient),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Relay) run() {
	defer close(r.done)
	for {
		select {
		case client := <-r.register:
			r.mu.Lock()
			r.clients[client.id] = client
			total := len(r.clients)
			r.mu.Unlock()
			logging.Debug("Relay client connected", map[string]interface{}{"client": client.id, "total": total})

		case client := <-r.unregister:
			r.mu.Lock()
			if _, ok := r.clients[client.id]; ok {
				delete(r.clients, client.id)
				close(client.send)
			}
			total := len(r.clients)
			r.mu.Unlock()
			logging.Debug("Relay client disconnected", map[string]interface{}{"client": client.id, "total": total})

		case msg := <-r.broadcast:
			r.mu.Lock()
			for id, client := range r.clients {
				if !client.wants(msg.typ) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Slow client, drop it.
					close(client.send)
					delete(r.clients, id)
					logging.Warn("Relay client dropped", map[string]interface{}{"client": id})
				}
			}
			r.mu.Unlock()

		case <-r.stopCh:
			r.mu.Lock()
			for id, client := range r.clients {
				close(client.send)
				delete(r.clients, id)
			}
			r.mu.Unlock()
			return
		}
	}
}

// Broadcast sends ev to every interested client.
func (r *Relay) Broadcast(ev events.Event) {
	payload, err := json.Marshal(Envelope{Type: ev.Type, Data: ev, Timestamp: time.Now().Unix()})
	if err != nil {
		logging.Error("Failed to marshal relay message", err, map[string]interface{}{"type": string(ev.Type)})
		return
	}
	select {
	case r.broadcast <- relayMessage{typ: ev.Type, payload: payload}:
	case <-r.stopCh:
	}
}

// Pump forwards sub to the clients until sub is closed or the relay stops.
func (r *Relay) Pump(sub *events.Subscription) {
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			r.Broadcast(ev)
		case <-r.stopCh:
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (r *Relay) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Stop disconnects every client and ends the dispatch loop.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

func (r *Relay) join(c *relayClient) bool {
	select {
	case r.register <- c:
		return true
	case <-r.stopCh:
		return false
	}
}

func (r *Relay) leave(c *relayClient) {
	select {
	case r.unregister <- c:
	case <-r.stopCh:
	}
}

// readPump handles subscribe, unsubscribe and ping requests.
func (c *relayClient) readPump() {
	defer func() {
		c.relay.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("Relay read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var req struct {
			Action string        `json:"action"`
			Events []events.Type `json:"events"`
		}
		if err := json.Unmarshal(message, &req); err != nil {
			logging.Debug("Invalid relay message", map[string]interface{}{"client": c.id, "error": err.Error()})
			continue
		}

		switch req.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range req.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": req.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, e := range req.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()

		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a control message. It is dropped if the client is gone.
func (c *relayClient) reply(msg map[string]interface{}) {
	msg["timestamp"] = time.Now().Unix()
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.relay.mu.RLock()
	defer c.relay.mu.RUnlock()
	if _, ok := c.relay.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump writes queued messages and keeps the connection alive.
func (c *relayClient) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeHTTP upgrades the request and attaches the client.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Warn("Relay upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &relayClient{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, clientBuffer),
		relay:         r,
		subscriptions: make(map[events.Type]bool),
	}
	if !r.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
