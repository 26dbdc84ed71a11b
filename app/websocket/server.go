package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/pubsub"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	TypeOrdersUpdated MessageType = "orders_updated"
	TypeOrderReady    MessageType = "order_ready"
	TypeTableUpdate   MessageType = "table_update"
	TypeNotification  MessageType = "notification"
	TypeHeartbeat     MessageType = "heartbeat"
	TypeAuthResponse  MessageType = "auth_response"
)

// ClientType represents the type of connected client
type ClientType string

const (
	ClientPOS      ClientType = "pos"
	ClientKitchen  ClientType = "kitchen"
	ClientWaiter   ClientType = "waiter"
	ClientCustomer ClientType = "customer"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID          string
	Type        ClientType
	Connection  *websocket.Conn
	Send        chan []byte
	Server      *Server
	ConnectedAt time.Time
	RemoteAddr  string
}

// Server pushes order and notification changes to the kitchen display,
// waiter apps and customer self-order pages, and serves the REST API
// those apps read.
type Server struct {
	clients      map[string]*Client
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client
	upgrader     websocket.Upgrader
	mu           sync.RWMutex
	port         string
	serviceName  string
	announceMDNS bool
	handlers     *Handlers
	subs         []*pubsub.Subscription
	mdnsShutdown chan bool
	done         chan struct{}
	stopOnce     sync.Once
}

// NewServer creates a new WebSocket server.
func NewServer(port, serviceName string, announceMDNS bool, handlers *Handlers) *Server {
	return &Server{
		clients:      make(map[string]*Client),
		broadcast:    make(chan []byte),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		port:         port,
		serviceName:  serviceName,
		announceMDNS: announceMDNS,
		handlers:     handlers,
		mdnsShutdown: make(chan bool),
		done:         make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local network clients only, no origin restriction
				return true
			},
		},
	}
}

// AttachBus relays bus events to connected clients. Order changes go to
// everyone so the apps re-poll; ready notifications go to POS and
// waiter apps only.
func (s *Server) AttachBus(bus *pubsub.Bus) {
	s.subs = append(s.subs, bus.Subscribe(pubsub.TopicOrdersUpdated, func(event pubsub.Event) {
		data, _ := json.Marshal(event.Payload)
		s.broadcastToAll(&Message{
			Type:      TypeOrdersUpdated,
			Timestamp: event.OccurredAt,
			Data:      data,
		})
	}))
	s.subs = append(s.subs, bus.Subscribe(pubsub.TopicNotificationsUpdated, func(event pubsub.Event) {
		data, _ := json.Marshal(event.Payload)
		msg := &Message{
			Type:      TypeNotification,
			Timestamp: event.OccurredAt,
			Data:      data,
		}
		s.broadcastToType(ClientPOS, msg)
		s.broadcastToType(ClientWaiter, msg)
	}))
}

// Start starts the WebSocket server. Blocks until the listener fails.
func (s *Server) Start() error {
	go s.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.handlers != nil {
		s.handlers.Register(mux)
	}

	if s.announceMDNS {
		go s.startMDNS()
	}

	log.Printf("WebSocket server starting on port %s", s.port)
	return http.ListenAndServe(s.port, mux)
}

// startMDNS announces the server via mDNS so the tablet apps can find
// it without configuration.
func (s *Server) startMDNS() {
	portStr := strings.TrimPrefix(s.port, ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Printf("mDNS: Invalid port format %s: %v", s.port, err)
		return
	}

	server, err := zeroconf.Register(
		s.serviceName,
		"_posserver._tcp",
		"local.",
		port,
		[]string{"version=2.0"},
		nil,
	)
	if err != nil {
		log.Printf("mDNS: Failed to register service: %v", err)
		return
	}

	log.Printf("mDNS: %s announced on _posserver._tcp.local", s.serviceName)

	<-s.mdnsShutdown
	server.Shutdown()
	log.Println("mDNS: Service announcement stopped")
}

// Stop stops the WebSocket server. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})

	select {
	case s.mdnsShutdown <- true:
	default:
	}

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, client := range s.clients {
		close(client.Send)
		client.Connection.Close()
	}
	s.clients = make(map[string]*Client)
}

// run handles the main server loop
func (s *Server) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client.ID] = client
			s.mu.Unlock()
			log.Printf("Client registered: %s (type: %s)", client.ID, client.Type)
			s.sendAuthResponse(client, true, "Connected successfully")

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client.ID]; ok {
				delete(s.clients, client.ID)
				s.mu.Unlock()
				closeSend(client)
				log.Printf("Client unregistered: %s", client.ID)
			} else {
				s.mu.Unlock()
			}

		case message := <-s.broadcast:
			s.mu.Lock()
			for id, client := range s.clients {
				select {
				case client.Send <- message:
				default:
					// Client buffer is full, disconnect
					delete(s.clients, id)
					closeSend(client)
				}
			}
			s.mu.Unlock()

		case <-ticker.C:
			s.sendHeartbeat()

		case <-s.done:
			return
		}
	}
}

func closeSend(c *Client) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// Channel already closed, ignore
			}
		}()
		close(c.Send)
	}()
}

// handleWebSocket handles WebSocket connection upgrades
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientType := ClientType(r.URL.Query().Get("type"))
	if clientType == "" {
		clientType = ClientPOS
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		ID:          generateClientID(),
		Type:        clientType,
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Server:      s,
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
	}

	s.register <- client

	go client.writePump()
	go client.readPump()
}

// handleHealth handles health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":  "healthy",
		"clients": clientCount,
		"time":    time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// readPump handles reading messages from the client
func (c *Client) readPump() {
	defer func() {
		c.Server.unregister <- c
		c.Connection.Close()
	}()

	c.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Connection.SetPongHandler(func(string) error {
		c.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := c.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var message Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			log.Printf("Error parsing message: %v", err)
			continue
		}

		c.handleMessage(&message)
	}
}

// writePump handles writing messages to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.Connection.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming messages from clients. The apps write
// through the REST API; the socket only carries change signals, so the
// inbound surface is small.
func (c *Client) handleMessage(message *Message) {
	switch message.Type {
	case TypeHeartbeat:
		c.sendMessage(Message{
			Type:      TypeHeartbeat,
			Timestamp: time.Now(),
			Data:      json.RawMessage(`{"status":"alive"}`),
		})

	case TypeTableUpdate:
		c.Server.broadcastToAll(message)

	default:
		log.Printf("Unknown message type: %s from client %s", message.Type, c.ID)
	}
}

// sendMessage sends a message to the client
func (c *Client) sendMessage(message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}

// broadcastToAll broadcasts a message to all clients
func (s *Server) broadcastToAll(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.Send <- data:
		default:
			log.Printf("Failed to send to client %s", client.ID)
		}
	}
}

// broadcastToType broadcasts a message to clients of one type
func (s *Server) broadcastToType(clientType ClientType, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		if client.Type == clientType {
			select {
			case client.Send <- data:
			default:
				log.Printf("Failed to send to %s client %s", clientType, client.ID)
			}
		}
	}
}

// BroadcastToKitchen broadcasts a message to all kitchen clients
func (s *Server) BroadcastToKitchen(message Message) {
	s.broadcastToType(ClientKitchen, &message)
}

// sendHeartbeat sends heartbeat to all clients
func (s *Server) sendHeartbeat() {
	message := Message{
		Type:      TypeHeartbeat,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"ping":"pong"}`),
	}

	s.broadcastToAll(&message)
}

// sendAuthResponse sends authentication response to a client
func (s *Server) sendAuthResponse(client *Client, success bool, message string) {
	response := map[string]interface{}{
		"success":   success,
		"message":   message,
		"client_id": client.ID,
	}

	data, _ := json.Marshal(response)

	client.sendMessage(Message{
		Type:      TypeAuthResponse,
		Timestamp: time.Now(),
		Data:      json.RawMessage(data),
	})
}

// GetServerStatus returns current server status
func (s *Server) GetServerStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[ClientType]int{}
	for _, client := range s.clients {
		counts[client.Type]++
	}

	return map[string]interface{}{
		"running":          true,
		"port":             s.port,
		"total_clients":    len(s.clients),
		"pos_clients":      counts[ClientPOS],
		"kitchen_clients":  counts[ClientKitchen],
		"waiter_clients":   counts[ClientWaiter],
		"customer_clients": counts[ClientCustomer],
	}
}

func generateClientID() string {
	return fmt.Sprintf("%d-%d", time.Now().Unix(), time.Now().Nanosecond())
}
