// Package route is the HTTP edge of the directory.
package route

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/spike-events/spike-directory/pkg/auth"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/route/socket"
	"github.com/spike-events/spike-directory/pkg/service"
)

// Options wires the server to the directory components.
type Options struct {
	Config    models.DirectoryOptions
	Directory *directory.Directory
	Locks     *lock.Coordinator
	Verifier  auth.CredentialVerifier
	Roles     *auth.RoleResolver
	Gate      *auth.Gate

	// Source feeds GET /um/sync/users. The route is not mounted without it.
	Source directory.UserSource

	// Feed relays lock events to WebSocket clients. The route is not mounted
	// without it.
	Feed socket.Feed

	Logger service.Logger
}

// Server serves the directory API.
type Server struct {
	opts    Options
	handler http.Handler

	// ctx ends with Stop and closes the lock feed connections.
	ctx    context.Context
	cancel context.CancelFunc

	m          sync.Mutex
	srv        *http.Server
	terminated chan struct{}
}

// NewServer builds the router. Call Start to listen.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = service.DefaultLogger("route: ")
	}
	s := &Server{opts: opts}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.handler = s.routes()
	return s
}

func (s *Server) Name() string {
	return "route"
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address. It returns once the listener runs;
// a failure to bind is logged.
func (s *Server) Start(_ context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.srv != nil {
		return errors.New("route: already started")
	}
	s.srv = &http.Server{Addr: s.opts.Config.Address, Handler: s.handler}
	s.terminated = make(chan struct{})
	srv, terminated := s.srv, s.terminated
	go func() {
		defer close(terminated)
		s.opts.Logger.Printf("route: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.opts.Logger.Printf("route: server failed: %v", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests for at most StopTimeout.
func (s *Server) Stop() {
	s.m.Lock()
	defer s.m.Unlock()
	s.cancel()
	if s.srv == nil {
		return
	}
	timeout := s.opts.Config.StopTimeout
	if timeout <= 0 {
		timeout = models.DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.opts.Logger.Printf("route: shutdown: %v", err)
	}
	<-s.terminated
	s.srv = nil
}
