// Package dashboard streams sync engine activity to WebSocket clients.
//
// A browser or script connected to /ws receives a stats message on connect
// and then every state transition, item change and completed sync of the
// engine the daemon is running.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType names the payload carried in Message.Data.
type MessageType string

const (
	MessageTypeStateChange  MessageType = "state_change"  // StateChangeData
	MessageTypeItemUpdate   MessageType = "item_update"   // ItemUpdateData
	MessageTypeSyncComplete MessageType = "sync_complete" // SyncCompleteData
	MessageTypeStats        MessageType = "stats"         // StatsData
)

// Message is the envelope written to clients as one JSON text frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	queueSize   = 100
	clientQueue = 16
	sendTimeout = 5 * time.Second
)

// Config holds server configuration.
type Config struct {
	Addr   string      // listen address, default 127.0.0.1:8080; port 0 picks a free one
	Logger *log.Logger // default stderr with "[dashboard] " prefix
}

// DefaultConfig returns the configuration used for a nil Config.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8080",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// client is one WebSocket subscriber with its own outgoing queue, so a slow
// reader never holds up the others.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Server fans dashboard messages out to WebSocket clients.
type Server struct {
	addr     string
	logger   *log.Logger
	listener net.Listener
	http     *http.Server

	queue chan Message

	mu      sync.Mutex
	clients map[*client]struct{}
	greet   func() Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. config may be nil.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	addr, logger := config.Addr, config.Logger
	if addr == "" {
		addr = defaults.Addr
	}
	if logger == nil {
		logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		logger:  logger,
		queue:   make(chan Message, queueSize),
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnConnect sets the function that builds the first message each client
// receives. Without one, clients are greeted with an empty stats message.
func (s *Server) OnConnect(fn func() Message) {
	s.mu.Lock()
	s.greet = fn
	s.mu.Unlock()
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down. It is safe to
// call before Start.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Stopped")
	return err
}

// Broadcast queues msg for every connected client. It never blocks: when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.queue <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Queue full, dropping %s message", msg.Type)
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			data, err := encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			s.mu.Lock()
			for c := range s.clients {
				select {
				case c.send <- data:
				default:
					s.logger.Println("Client not keeping up, disconnecting")
					c.cancel()
				}
			}
			s.mu.Unlock()
		}
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// CloseRead discards incoming frames and cancels ctx once the peer
	// goes away.
	ctx, cancel := context.WithCancel(conn.CloseRead(s.ctx))
	c := &client{conn: conn, send: make(chan []byte, clientQueue), cancel: cancel}
	if !s.register(c) {
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.wg.Done()
	defer s.unregister(c)

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, sendTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				s.logger.Printf("Write failed: %v", err)
				return
			}
		}
	}
}

// register queues the greeting ahead of any broadcast and adds c to the
// client set. It reports false once the server is stopping.
func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}

	msg := Message{Type: MessageTypeStats}
	if s.greet != nil {
		msg = s.greet()
	}
	if data, err := encode(msg); err == nil {
		c.send <- data
	}

	s.clients[c] = struct{}{}
	s.wg.Add(1)
	s.logger.Printf("Client connected (%d total)", len(s.clients))
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	c.cancel()
	status, reason := websocket.StatusNormalClosure, ""
	if s.ctx.Err() != nil {
		status, reason = websocket.StatusGoingAway, "server shutting down"
	}
	_ = c.conn.Close(status, reason)
	s.logger.Printf("Client disconnected (%d total)", n)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "todosync dashboard\n\nevents: ws://%s/ws\nhealth: http://%s/health\n", r.Host, r.Host)
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
