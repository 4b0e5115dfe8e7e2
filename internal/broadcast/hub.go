package broadcast

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/hassanrakib/zitbo-server/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// Client is one registered WebSocket connection inside the hub. The
// ConnID tags outbound notices so a device never receives the echo of
// its own event.
type Client struct {
	Username string
	ConnID   string
	conn     *websocket.Conn
	writer   *clientWriter
}

// Send enqueues a message on the connection's writer without blocking.
// A false return means the client is too slow to keep up; the caller
// should unregister it.
func (c *Client) Send(data []byte) bool {
	return c.writer.send(data)
}

type channelClients map[string]*Client

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	username     string
	connection   *websocket.Conn
	replyChannel chan registerReply
}

type registerReply struct {
	client *Client
	err    error
}

type unregisterCmd struct {
	baseHubCmd
	client *Client
}

type broadcastCmd struct {
	baseHubCmd
	username     string
	data         []byte
	exceptConnID string
}

type clientCountCmd struct {
	baseHubCmd
	username     string
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub routes messages to the live connections of each user. It is a
// single-goroutine actor: every membership change and broadcast goes
// through the command channel, so the channel maps need no locking.
type Hub struct {
	cmdCh             chan hubCmd
	clock             clockwork.Clock
	channels          map[string]channelClients
	onClientJoin      func(username string)
	onClientLeave     func(username string)
	done              chan struct{}
	stopTimeout       time.Duration
	maxClientsPerUser int
}

// NewHub creates a hub and starts its actor goroutine.
// onClientJoin runs after each successful register, onClientLeave after
// each unregister; both run outside the actor goroutine so callbacks
// may block on storage.
// maxClientsPerUser caps simultaneous devices per account.
func NewHub(onClientJoin, onClientLeave func(username string), clock clockwork.Clock, maxClientsPerUser int) *Hub {
	h := &Hub{
		cmdCh:             make(chan hubCmd, 256),
		clock:             clock,
		channels:          make(map[string]channelClients),
		onClientJoin:      onClientJoin,
		onClientLeave:     onClientLeave,
		done:              make(chan struct{}),
		stopTimeout:       stopTimeout,
		maxClientsPerUser: maxClientsPerUser,
	}
	go h.run()
	return h
}

// Register adds a connection to the user's channel and returns the
// client handle the read loop uses for acks and teardown.
func (h *Hub) Register(username string, conn *websocket.Conn) (*Client, error) {
	replyCh := make(chan registerReply, 1)
	h.cmdCh <- registerCmd{username: username, connection: conn, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.client, reply.err
	case <-timer.Chan():
		return nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a client and stops its writer. Safe to call more
// than once for the same client.
func (h *Hub) Unregister(client *Client) {
	h.cmdCh <- unregisterCmd{client: client}
}

// LocalBroadcast sends data to every connection of username on this
// instance, skipping exceptConnID (the device that caused the change).
// Pass an empty exceptConnID to reach all connections.
func (h *Hub) LocalBroadcast(username string, data []byte, exceptConnID string) {
	h.cmdCh <- broadcastCmd{username: username, data: data, exceptConnID: exceptConnID}
}

// ClientCount returns the number of connections username has on this
// instance, or -1 if the command times out.
func (h *Hub) ClientCount(username string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{username: username, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every client connection and shuts the actor down.
// Blocks until the hub goroutine has exited or the timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timeout := h.clock.NewTimer(h.stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Hub stop timeout exceeded, forcing exit", "timeout", h.stopTimeout)
		close(h.done)
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			h.closeAllClients("hub panic")
		}
	}()

	defer close(h.done)

	// Track command channel depth every second
	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))

			if depth > 200 { // 80% of 256
				slog.Warn("Command channel near capacity",
					"depth", depth,
					"capacity", cap(h.cmdCh),
				)
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case unregisterCmd:
				h.handleUnregister(c.client)
			case broadcastCmd:
				h.handleBroadcast(c)
			case clientCountCmd:
				c.replyChannel <- len(h.channels[c.username])
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	clients, exists := h.channels[c.username]
	if !exists {
		clients = make(channelClients)
		h.channels[c.username] = clients
	}

	if len(clients) >= h.maxClientsPerUser {
		slog.Warn("Rejecting client: max connections per user reached",
			"username", c.username,
			"max_clients", h.maxClientsPerUser,
		)
		c.connection.Close()
		c.replyChannel <- registerReply{err: fmt.Errorf("max connections per user (%d) reached", h.maxClientsPerUser)}
		return
	}

	client := &Client{
		Username: c.username,
		ConnID:   uuid.NewString(),
		conn:     c.connection,
		writer:   newClientWriter(c.connection, h.clock),
	}
	clients[client.ConnID] = client

	metrics.HubActiveChannels.Set(float64(len(h.channels)))
	metrics.HubConnectedClients.Inc()

	// Run callback asynchronously to avoid blocking the actor on storage
	if h.onClientJoin != nil {
		go h.onClientJoin(c.username)
	}

	slog.Debug("Client registered",
		"username", c.username,
		"conn_id", client.ConnID,
		"total_clients", len(clients),
	)
	c.replyChannel <- registerReply{client: client}
}

func (h *Hub) handleUnregister(client *Client) {
	clients, exists := h.channels[client.Username]
	if !exists {
		return
	}
	if _, exists := clients[client.ConnID]; !exists {
		return
	}

	client.writer.stop()
	delete(clients, client.ConnID)

	metrics.HubConnectedClients.Dec()

	if len(clients) == 0 {
		delete(h.channels, client.Username)
		metrics.HubActiveChannels.Set(float64(len(h.channels)))
		slog.Info("Last local connection closed", "username", client.Username)
	} else {
		slog.Debug("Client unregistered",
			"username", client.Username,
			"conn_id", client.ConnID,
			"remaining_clients", len(clients),
		)
	}

	if h.onClientLeave != nil {
		go h.onClientLeave(client.Username)
	}
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	clients, exists := h.channels[c.username]
	if !exists {
		return
	}

	var slow []*Client
	for connID, client := range clients {
		if connID == c.exceptConnID {
			continue
		}
		if !client.writer.send(c.data) {
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		slog.Warn("Disconnecting slow client",
			"username", client.Username,
			"conn_id", client.ConnID,
		)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(client)
	}
}

func (h *Hub) handleStop() {
	totalClients := 0
	for _, clients := range h.channels {
		totalClients += len(clients)
	}

	slog.Info("Hub shutting down", "channels", len(h.channels), "total_clients", totalClients)

	h.closeAllClients("Server shutting down")

	slog.Info("Hub shutdown complete", "disconnected_clients", totalClients)
}

// closeAllClients closes every connection with the given reason. Used
// during panic recovery and graceful shutdown.
func (h *Hub) closeAllClients(reason string) {
	for username, clients := range h.channels {
		for _, client := range clients {
			client.writer.stopGraceful(reason)
			metrics.HubConnectedClients.Dec()
			if h.onClientLeave != nil {
				go h.onClientLeave(client.Username)
			}
		}
		delete(h.channels, username)
	}
	metrics.HubActiveChannels.Set(0)
}
