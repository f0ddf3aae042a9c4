package binder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/yaoapp/kun/log"
)

// Server accepts peer processes on a unix socket. Transactions from peers
// that do not target an object the peer itself handed over are resolved by
// name through the resolver.
type Server struct {
	path     string
	ln       net.Listener
	resolver Resolver

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// Listen creates the socket at path, replacing a stale one.
func Listen(path string, resolver Resolver) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if st, err := os.Lstat(path); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path exists and is not unix socket: %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat socket path: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen uds: %w", err)
	}
	// Any local process may register; identity comes from peer credentials.
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		path:     path,
		ln:       ln,
		resolver: resolver,
		conns:    make(map[*Conn]struct{}),
	}, nil
}

// Path is the socket path.
func (s *Server) Path() string {
	return s.path
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		c := NewConn(nc, s.resolver)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		log.Debug("binder server: peer connected conn=%s pid=%d", c.ID(), c.Pid())

		go func() {
			<-c.Closed()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			log.Debug("binder server: peer gone conn=%s pid=%d", c.ID(), c.Pid())
		}()
	}
}

// Conns returns the number of connected peers.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Peers returns the connected peers.
func (s *Server) Peers() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		peers = append(peers, c)
	}
	return peers
}

// Close stops accepting, drops every peer and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, c := range conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
