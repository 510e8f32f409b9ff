package server

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxen-ai/oxen/internal/repo"
)

// RepoSession holds the server's view of one open repository: its cached
// *repo.Repository, connected WebSocket clients, and the broadcast channel
// that pushes status/HEAD updates to them. The teacher ran one of these per
// hosted repo (local mode: one; SaaS mode: one per tenant); a single Oxen
// repository process only ever needs the local-mode shape.
type RepoSession struct {
	id     string
	logger *slog.Logger

	repoMu  sync.RWMutex
	current *repo.Repository

	lastHeadMu sync.Mutex
	lastHead   string
	lastStatus string

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	broadcast chan UpdateMessage

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	clientWg sync.WaitGroup
}

// NewRepoSession constructs a RepoSession wrapping an already-open repository.
func NewRepoSession(id string, r *repo.Repository, logger *slog.Logger) *RepoSession {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RepoSession{
		id:        id,
		logger:    logger.With("session", id),
		current:   r,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		broadcast: make(chan UpdateMessage, broadcastChannelSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Repo returns the session's repository. Unlike the teacher's git-viewer
// sessions, Oxen's repository handle is not swapped out on every reload —
// `repo.Repository` reads ref/tree/blob state live from disk on every call,
// so there is nothing to re-open; the session just tracks HEAD/status
// changes for the websocket feed.
func (rs *RepoSession) Repo() *repo.Repository {
	rs.repoMu.RLock()
	defer rs.repoMu.RUnlock()
	return rs.current
}

// Start launches the broadcast goroutine.
func (rs *RepoSession) Start() {
	rs.wg.Add(1)
	go rs.handleBroadcast()
}

// Close cancels the session context, waits for server-side goroutines, sends
// WebSocket close frames to all clients, then force-closes connections.
func (rs *RepoSession) Close() {
	rs.cancel()
	rs.wg.Wait()

	rs.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(rs.clients))
	for conn := range rs.clients {
		clients = append(clients, conn)
	}
	clientCount := len(clients)
	rs.clientsMu.RUnlock()

	if clientCount > 0 {
		rs.logger.Info("Sending close frames to WebSocket clients", "count", clientCount)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		deadline := time.Now().Add(1 * time.Second)
		for _, conn := range clients {
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		}
		time.Sleep(500 * time.Millisecond)
	}

	rs.clientsMu.Lock()
	for conn := range rs.clients {
		if err := conn.Close(); err != nil {
			rs.logger.Error("Failed to close client connection", "err", err)
		}
	}
	rs.clients = make(map[*websocket.Conn]*sync.Mutex)
	rs.clientsMu.Unlock()

	rs.clientWg.Wait()
	if clientCount > 0 {
		rs.logger.Info("All WebSocket connections closed")
	}
}

// buildHeadInfo snapshots r's current HEAD for the websocket feed.
func buildHeadInfo(r *repo.Repository) *HeadInfo {
	head, err := r.Refs().GetHead()
	if err != nil {
		return nil
	}
	info := &HeadInfo{
		BranchName: head.Branch,
		IsDetached: head.Branch == "",
		Remotes:    map[string]string{},
	}
	for name, rem := range r.Remotes() {
		info.Remotes[name] = rem.URL
	}

	hash, err := r.HeadCommitHash()
	if err != nil || hash.IsZero() {
		return info
	}
	info.Hash = hash.String()

	commits, err := r.Log(0, 1)
	if err == nil && len(commits) > 0 {
		info.Message = commits[0].Message
	}
	return info
}

// refreshAndBroadcast recomputes HEAD and working-tree status and, if
// either changed since the last check, pushes an update to every connected
// client. Called by both the filesystem watcher (on change events) and the
// status poll loop (for working-tree-only changes the watcher can't see
// from .oxen alone).
func (rs *RepoSession) refreshAndBroadcast() {
	r := rs.Repo()
	head := buildHeadInfo(r)
	status := getWorkingTreeStatus(r)

	headKey := ""
	if head != nil {
		headKey = head.Hash + "|" + head.BranchName
	}
	statusKey := statusFingerprint(status)

	rs.lastHeadMu.Lock()
	changed := headKey != rs.lastHead || statusKey != rs.lastStatus
	rs.lastHead = headKey
	rs.lastStatus = statusKey
	rs.lastHeadMu.Unlock()

	if !changed {
		return
	}

	msg := UpdateMessage{Status: status}
	if headKey != "" {
		msg.Head = head
	}
	rs.broadcastUpdate(msg)
}

func statusFingerprint(status *WorkingTreeStatus) string {
	if status == nil {
		return ""
	}
	var b strings.Builder
	for _, f := range status.Staged {
		b.WriteString("S:" + f.Path + f.StatusCode + ";")
	}
	for _, f := range status.Modified {
		b.WriteString("M:" + f.Path + ";")
	}
	for _, f := range status.Untracked {
		b.WriteString("U:" + f.Path + ";")
	}
	return b.String()
}

// handleBroadcast reads from the broadcast channel and sends messages to all
// connected WebSocket clients. Runs until the session context is canceled.
func (rs *RepoSession) handleBroadcast() {
	defer rs.wg.Done()
	for {
		select {
		case <-rs.ctx.Done():
			rs.logger.Debug("Broadcast handler exiting")
			return
		case message := <-rs.broadcast:
			rs.sendToAllClients(message)
		}
	}
}

// sendToAllClients writes a message to every connected WebSocket client.
// Clients that fail to receive the message are removed.
func (rs *RepoSession) sendToAllClients(message UpdateMessage) {
	var failedClients []*websocket.Conn

	rs.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*sync.Mutex, len(rs.clients))
	for conn, mu := range rs.clients {
		snapshot[conn] = mu
	}
	rs.clientsMu.RUnlock()

	for conn, mu := range snapshot {
		mu.Lock()
		err1 := conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err2 error
		if err1 == nil {
			err2 = conn.WriteJSON(message)
		}
		mu.Unlock()

		if err1 != nil {
			rs.logger.Error("Failed to set write deadline", "addr", conn.RemoteAddr(), "err", err1)
			failedClients = append(failedClients, conn)
		} else if err2 != nil {
			rs.logger.Error("Broadcast failed", "addr", conn.RemoteAddr(), "err", err2)
			failedClients = append(failedClients, conn)
		}
	}

	if len(failedClients) > 0 {
		rs.clientsMu.Lock()
		for _, conn := range failedClients {
			delete(rs.clients, conn)
			if err := conn.Close(); err != nil {
				rs.logger.Error("Failed to close client connection", "err", err)
			}
		}
		remaining := len(rs.clients)
		rs.clientsMu.Unlock()
		rs.logger.Info("Removed failed clients", "removed", len(failedClients), "remaining", remaining)
	}
}

// broadcastUpdate queues a message for broadcast. Non-blocking: drops the
// message if the channel is full.
func (rs *RepoSession) broadcastUpdate(message UpdateMessage) {
	select {
	case rs.broadcast <- message:
	default:
		rs.logger.Warn("Broadcast channel full, dropping message; clients may be slow")
	}
}

// sendInitialState sends the full repository state to a newly connected client.
func (rs *RepoSession) sendInitialState(conn *websocket.Conn) {
	r := rs.Repo()
	message := UpdateMessage{
		Status: getWorkingTreeStatus(r),
		Head:   buildHeadInfo(r),
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		rs.logger.Error("Failed to set write deadline", "addr", conn.RemoteAddr(), "err", err)
		return
	}
	if err := conn.WriteJSON(message); err != nil {
		rs.logger.Error("Failed to send initial state", "addr", conn.RemoteAddr(), "err", err)
		return
	}
	rs.logger.Info("Initial state sent", "addr", conn.RemoteAddr())
}

// registerClient adds a WebSocket connection to the session's client map and
// returns the per-connection write mutex.
func (rs *RepoSession) registerClient(conn *websocket.Conn) *sync.Mutex {
	writeMu := &sync.Mutex{}
	rs.clientsMu.Lock()
	rs.clients[conn] = writeMu
	count := len(rs.clients)
	rs.clientsMu.Unlock()
	rs.logger.Info("WebSocket client registered", "addr", conn.RemoteAddr(), "totalClients", count)
	return writeMu
}

// removeClient removes a WebSocket connection from the session's client map
// and closes it.
func (rs *RepoSession) removeClient(conn *websocket.Conn) {
	rs.clientsMu.Lock()
	defer rs.clientsMu.Unlock()
	if _, ok := rs.clients[conn]; ok {
		delete(rs.clients, conn)
		if err := conn.Close(); err != nil {
			rs.logger.Error("Failed to close connection", "addr", conn.RemoteAddr(), "err", err)
		}
		rs.logger.Info("WebSocket client removed", "totalClients", len(rs.clients))
	}
}

// clientReadPump blocks on reads to detect client disconnect, then closes
// the done channel to signal clientWritePump to stop.
func (rs *RepoSession) clientReadPump(conn *websocket.Conn, done chan struct{}) {
	defer rs.clientWg.Done()
	defer func() {
		if r := recover(); r != nil {
			rs.logger.Warn("Recovered panic in clientReadPump", "addr", conn.RemoteAddr(), "panic", r)
		}
		close(done)
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				rs.logger.Error("WebSocket read error", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
	}
}

// clientWritePump sends keepalive pings. writeMu serializes writes with broadcasts.
func (rs *RepoSession) clientWritePump(conn *websocket.Conn, done chan struct{}, writeMu *sync.Mutex) {
	defer rs.clientWg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer rs.removeClient(conn)

	for {
		select {
		case <-done:
			rs.logger.Info("WebSocket client disconnected", "addr", conn.RemoteAddr())
			return
		case <-ticker.C:
			writeMu.Lock()
			err1 := conn.SetWriteDeadline(time.Now().Add(writeWait))
			var err2 error
			if err1 == nil {
				err2 = conn.WriteMessage(websocket.PingMessage, nil)
			}
			writeMu.Unlock()

			if err1 != nil {
				rs.logger.Error("Failed to set write deadline", "addr", conn.RemoteAddr(), "err", err1)
			}
			if err2 != nil {
				rs.logger.Error("WebSocket ping failed", "addr", conn.RemoteAddr(), "err", err2)
				return
			}
		}
	}
}
