package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oxen-ai/oxen/internal/repo"
	"github.com/oxen-ai/oxen/internal/transfer"
)

// Server serves one Oxen repository's read API, remote-workspace endpoints
// (§4.10), live WebSocket status feed, and the C9 wire protocol push/pull
// clients speak against, all from a single process. The teacher's ModeSaaS
// (one process fanning out to many cloned repositories via a RepoManager)
// is left unadapted — see DESIGN.md — since nothing in this spec's CLI or
// wire-protocol surface requires multi-tenant hosting.
type Server struct {
	addr        string
	rateLimiter *rateLimiter
	httpServer  *http.Server
	logger      *slog.Logger

	session *RepoSession
	sync    *transfer.Server

	treeCache *LRUCache[any]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer constructs a Server over an already-open repository.
func NewServer(r *repo.Repository, addr string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.Default()

	s := &Server{
		addr:        addr,
		rateLimiter: newRateLimiter(100, 200, time.Second),
		logger:      logger,
		session:     NewRepoSession("local", r, logger),
		sync: &transfer.Server{
			Refs:  r.Refs(),
			Tree:  r.Tree(),
			Blobs: r.Blobs(),
		},
		treeCache: NewLRUCache[any](defaultCacheSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	return s
}

const defaultCacheSize = 500

// Start begins serving and blocks until the server exits or encounters a
// fatal error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	const apiWriteDeadline = 30 * time.Second
	ls := s.session
	ls.Start()

	mux.HandleFunc("/api/repository", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleRepository))))
	mux.HandleFunc("/api/tree/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleTree))))
	mux.HandleFunc("/api/file/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleFile))))
	mux.HandleFunc("/api/blob/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleBlob))))
	mux.HandleFunc("/api/log", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleLog))))
	mux.HandleFunc("/api/ws", withLocalSession(ls, s.handleWebSocket))

	s.registerWorkspaceRoutes(mux, apiWriteDeadline)

	// The C9 wire protocol (handshake/ancestry/treediff/commits/refupdate/
	// blob/push) is mounted under /sync/ so a remote URL configured as
	// http://host:port/sync points `oxen push`/`pull`/`clone` straight at
	// it without colliding with the /api/ read routes above.
	mux.Handle("/sync/", http.StripPrefix("/sync", s.sync.Handler()))

	handler := requestLogger(s.logger, mux)

	// WriteTimeout must remain 0 because WebSocket connections are
	// long-lived; non-WebSocket handlers enforce per-response write
	// deadlines via the writeDeadline middleware applied at the route level.
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.startWatcher(); err != nil {
			s.logger.Error("watcher error", "err", err)
		}
	}()

	s.logger.Info("Oxen server starting", "addr", "http://"+s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and its session.
func (s *Server) Shutdown() {
	start := time.Now()
	s.logger.Info("Server shutting down")

	if s.httpServer != nil {
		s.logger.Info("Stopping HTTP listener")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "err", err)
		}
		s.logger.Info("HTTP listener stopped", "elapsed", time.Since(start).Round(time.Millisecond))
	}

	s.cancel()
	s.rateLimiter.Close()

	s.logger.Info("Waiting for watcher goroutines to exit")
	s.wg.Wait()

	s.session.Close()
	s.logger.Info("Server shutdown complete", "elapsed", time.Since(start).Round(time.Millisecond))
}
