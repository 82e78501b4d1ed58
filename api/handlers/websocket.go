package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/gorilla/websocket"

	"github.com/NethermindEth/agentchain/consensus/abci"
	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/ledger"
	"github.com/NethermindEth/agentchain/query"
)

type WSEvent struct {
	Type    string      `json:"type"`
	Height  int64       `json:"height"`
	Payload interface{} `json:"payload"`
}

const (
	EventBlockCommitted  = "BLOCK_COMMITTED"
	EventNewTransaction  = "NEW_TRANSACTION"
	EventRequestUpdated  = "REQUEST_UPDATED"
	EventMessageOutbound = "MESSAGE_OUTBOUND"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans committed ledger events out to websocket clients. It is fed by
// the application after every commit and never blocks it: when the
// broadcast buffer is full, events are dropped.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan WSEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	logger     log.Logger

	mu sync.RWMutex
}

func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan WSEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		logger:     logger.With("module", "websocket"),
	}
}

// Run delivers events until Stop is called.
func (hub *Hub) Run() {
	for {
		select {
		case <-hub.quit:
			hub.mu.Lock()
			for client := range hub.clients {
				client.Close()
				delete(hub.clients, client)
			}
			hub.mu.Unlock()
			return

		case client := <-hub.register:
			hub.mu.Lock()
			hub.clients[client] = true
			hub.mu.Unlock()

		case client := <-hub.unregister:
			hub.mu.Lock()
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				client.Close()
			}
			hub.mu.Unlock()

		case event := <-hub.broadcast:
			hub.mu.Lock()
			for client := range hub.clients {
				client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteJSON(event); err != nil {
					hub.logger.Debug("Dropping websocket client", "err", err)
					client.Close()
					delete(hub.clients, client)
				}
			}
			hub.mu.Unlock()
		}
	}
}

func (hub *Hub) Stop() {
	close(hub.quit)
}

// Clients is the number of connected clients.
func (hub *Hub) Clients() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// Serve upgrades an HTTP request and keeps the client registered until it
// disconnects. Anything the client sends is ignored.
func (hub *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("Failed to upgrade connection", "err", err)
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.quit:
		conn.Close()
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case hub.unregister <- conn:
	case <-hub.quit:
	}
}

// Broadcast queues an event for every client.
func (hub *Hub) Broadcast(event WSEvent) {
	select {
	case hub.broadcast <- event:
	default:
		hub.logger.Error("Websocket buffer full, dropping event", "type", event.Type, "height", event.Height)
	}
}

// BlockCommitted turns the block's ledger writes into events.
func (hub *Hub) BlockCommitted(block abci.CommittedBlock) {
	hub.Broadcast(WSEvent{
		Type:   EventBlockCommitted,
		Height: block.Height,
		Payload: map[string]interface{}{
			"app_hash": fmt.Sprintf("%X", block.AppHash),
			"time":     block.Time,
			"changes":  len(block.Changes),
		},
	})
	for _, kv := range block.Changes {
		if kv.Value == nil {
			continue
		}
		switch {
		case strings.HasPrefix(kv.Key, ledger.Prefixes.Transaction):
			var tx core.Transaction
			if err := json.Unmarshal(kv.Value, &tx); err != nil {
				continue
			}
			hub.Broadcast(WSEvent{Type: EventNewTransaction, Height: block.Height, Payload: query.NewTransactionInfo(tx)})
		case strings.HasPrefix(kv.Key, ledger.Prefixes.Request):
			var req core.ServiceRequest
			if err := json.Unmarshal(kv.Value, &req); err != nil {
				continue
			}
			hub.Broadcast(WSEvent{Type: EventRequestUpdated, Height: block.Height, Payload: query.NewServiceRequestInfo(req)})
		}
	}
	for _, env := range block.Outbox {
		hub.Broadcast(WSEvent{Type: EventMessageOutbound, Height: block.Height, Payload: env})
	}
}
