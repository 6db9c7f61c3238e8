package bridge

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/urlbar/internal/errors"
)

// ClientScript is the thin browser client.
//
//go:embed client.js
var ClientScript string

// MessageType identifies a WebSocket frame.
type MessageType string

const (
	// MessageHash is sent by the browser with its current location.hash.
	MessageHash MessageType = "hash"

	// MessageNavigate is sent by the server to set location.hash.
	MessageNavigate MessageType = "navigate"
)

// Message is a JSON frame exchanged with the browser.
type Message struct {
	Type MessageType `json:"type"`
	Hash string      `json:"hash"`
}

// Config configures a Bridge.
type Config struct {
	// AllowedOrigins lists the origins allowed to connect. "*" allows any
	// origin. Empty means same-origin only.
	AllowedOrigins []string

	// OnConnect is called once a client has reported its first hash. The
	// returned function, if any, is called when the connection closes.
	OnConnect func(*Client) func()

	// Logger defaults to slog.Default() with component=bridge.
	Logger *slog.Logger

	// HandshakeTimeout bounds the wait for the first hash message.
	// Default: 5s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds every write to a client. Default: 5s.
	WriteTimeout time.Duration

	// ReadLimit is the maximum frame size accepted from a client.
	// Default: 16KB.
	ReadLimit int64

	// TrustedProxies lists proxy IPs or CIDR prefixes whose Forwarded and
	// X-Forwarded-For headers are used to resolve a client's address.
	TrustedProxies []string

	// Registry, if set, registers the bridge metrics.
	Registry prometheus.Registerer

	// Namespace is the metrics namespace (default: "urlbar").
	Namespace string
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 16 * 1024
	}
	if c.Namespace == "" {
		c.Namespace = "urlbar"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Bridge manages the WebSocket connections of browser clients.
type Bridge struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	proxies  *proxySet
	metrics  *metrics

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// New creates a bridge.
func New(config Config) *Bridge {
	config.applyDefaults()

	b := &Bridge{
		config:  config,
		logger:  config.Logger.With("component", "bridge"),
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
	}
	b.proxies = newProxySet(config.TrustedProxies, b.logger)
	if config.Registry != nil {
		b.metrics = newMetrics(config.Registry, config.Namespace)
	}
	return b
}

// metrics holds the bridge's Prometheus collectors. A nil *metrics records
// nothing.
type metrics struct {
	clients  prometheus.Gauge
	messages *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_clients",
			Help:      "Number of connected browser clients",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_messages_total",
			Help:      "WebSocket messages exchanged with browser clients",
		}, []string{"direction", "type"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_errors_total",
			Help:      "WebSocket errors by kind",
		}, []string{"kind"}),
	}
}

func (m *metrics) clientAdded() {
	if m != nil {
		m.clients.Inc()
	}
}

func (m *metrics) clientRemoved() {
	if m != nil {
		m.clients.Dec()
	}
}

func (m *metrics) message(direction string, t MessageType) {
	if m != nil {
		m.messages.WithLabelValues(direction, string(t)).Inc()
	}
}

func (m *metrics) failure(kind string) {
	if m != nil {
		m.errors.WithLabelValues(kind).Inc()
	}
}

// originChecker returns nil for same-origin checks, which the upgrader
// performs itself.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// Routes returns a router serving GET /ws and GET /client.js.
func (b *Bridge) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", b.HandleWebSocket)
	r.Get("/client.js", b.HandleClientScript)
	return r
}

// HandleClientScript serves the thin client.
func (b *Bridge) HandleClientScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(ClientScript))
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects.
func (b *Bridge) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	remote := remoteAddr(r, b.proxies)

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.metrics.failure("upgrade")
		b.logger.Warn("websocket upgrade failed", "error", errors.New("E300").Wrap(err), "remote", remote)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(b.config.ReadLimit)

	client := newClient(conn, remote, b.config.WriteTimeout)

	conn.SetReadDeadline(time.Now().Add(b.config.HandshakeTimeout))
	first, err := readMessage(conn)
	if err != nil || first.Type != MessageHash {
		b.metrics.failure("handshake")
		b.logger.Warn("client handshake failed", "error", err, "remote", remote)
		return
	}
	conn.SetReadDeadline(time.Time{})
	b.metrics.message("in", first.Type)
	client.setHash(first.Hash)

	b.add(client)
	defer b.remove(client)

	var cleanup func()
	if b.config.OnConnect != nil {
		cleanup = b.config.OnConnect(client)
	}
	defer func() {
		close(client.done)
		if cleanup != nil {
			cleanup()
		}
	}()

	b.logger.Info("client connected", "client", client.id, "remote", client.remoteAddr, "hash", first.Hash)

	for {
		msg, err := readMessage(conn)
		if err != nil {
			if ue, ok := err.(*errors.UrlbarError); ok {
				b.metrics.failure("malformed")
				b.logger.Debug("ignoring client frame", "client", client.id, "error", ue)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.metrics.failure("read")
				b.logger.Warn("client read failed", "client", client.id, "error", err)
			}
			break
		}
		b.metrics.message("in", msg.Type)
		if msg.Type == MessageHash {
			client.setHash(msg.Hash)
		}
	}

	b.logger.Info("client disconnected", "client", client.id)
}

// readMessage reads one frame. Malformed JSON is reported as an E301
// UrlbarError so the caller can skip it without dropping the connection.
func readMessage(conn *websocket.Conn) (Message, error) {
	var msg Message
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, errors.New("E301").Wrap(err)
	}
	return msg, nil
}

func (b *Bridge) add(c *Client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.metrics.clientAdded()
}

func (b *Bridge) remove(c *Client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()
	if ok {
		b.metrics.clientRemoved()
	}
}

func (b *Bridge) snapshot() []*Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	return clients
}

// Navigate asks every connected client to set its location.hash. Clients
// that cannot be written to are disconnected. It returns the number of
// clients reached.
func (b *Bridge) Navigate(hash string) int {
	sent := 0
	for _, c := range b.snapshot() {
		if err := c.Navigate(hash); err != nil {
			b.metrics.failure("write")
			b.logger.Warn("navigate failed", "client", c.id, "error", err)
			c.conn.Close()
			continue
		}
		b.metrics.message("out", MessageNavigate)
		sent++
	}
	return sent
}

// Clients returns the connected clients.
func (b *Bridge) Clients() []*Client {
	return b.snapshot()
}

// ClientCount returns the number of connected clients.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close closes all client connections. Their handlers run cleanup as the
// read loops exit.
func (b *Bridge) Close() {
	for _, c := range b.snapshot() {
		c.close()
	}
}

// Client is one connected browser tab.
type Client struct {
	id           string
	remoteAddr   string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu   sync.RWMutex
	hash string

	notify chan struct{}
	done   chan struct{}
}

func newClient(conn *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *Client {
	return &Client{
		id:           uuid.NewString(),
		remoteAddr:   remoteAddr,
		conn:         conn,
		writeTimeout: writeTimeout,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the client's network address.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// Hash returns the last location.hash the client reported.
func (c *Client) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hash
}

// Notify returns a channel that receives after each reported hash change.
// Notifications coalesce: a slow reader sees at most one pending signal.
func (c *Client) Notify() <-chan struct{} {
	return c.notify
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) setHash(hash string) {
	c.mu.Lock()
	changed := c.hash != hash
	c.hash = hash
	c.mu.Unlock()

	if !changed {
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Navigate asks the browser to set its location.hash.
func (c *Client) Navigate(hash string) error {
	data, err := json.Marshal(Message{Type: MessageNavigate, Hash: hash})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	c.conn.Close()
}
