// Package scribetest provides an in-process Scribe collector for tests.
package scribetest

import (
	"context"
	"net"
	"sync"

	"github.com/apache/thrift/lib/go/thrift"

	"github.com/szibis/logship/internal/scribe"
)

// Server accepts Scribe Log calls on a loopback listener and records them.
type Server struct {
	ln net.Listener

	mu       sync.Mutex
	batches  [][]*scribe.LogEntry
	result   scribe.ResultCode
	dropNext int
	conns    map[net.Conn]struct{}
	accepted int
	closed   bool

	wg sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 with a random port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// SetResult sets the code returned to subsequent calls.
func (s *Server) SetResult(code scribe.ResultCode) {
	s.mu.Lock()
	s.result = code
	s.mu.Unlock()
}

// DropNext makes the next n calls close the connection without replying.
func (s *Server) DropNext(n int) {
	s.mu.Lock()
	s.dropNext = n
	s.mu.Unlock()
}

// Batches returns a copy of every batch answered with OK.
func (s *Server) Batches() [][]*scribe.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*scribe.LogEntry(nil), s.batches...)
}

// Messages returns the messages of every accepted batch in arrival order.
func (s *Server) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		for _, e := range b {
			out = append(out, e.Message)
		}
	}
	return out
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// CloseConnections drops every open connection, keeping the listener.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the listener and all connections and waits for them to end.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.ln.Close()
	s.CloseConnections()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	ctx := context.Background()
	conf := &thrift.TConfiguration{}
	framed := thrift.NewTFramedTransportConf(thrift.NewTSocketFromConnConf(conn, conf), conf)
	proto := thrift.NewTBinaryProtocolConf(framed, conf)

	for {
		name, _, seq, err := proto.ReadMessageBegin(ctx)
		if err != nil {
			return
		}
		var args scribe.LogArgs
		if err := args.Read(ctx, proto); err != nil {
			return
		}
		if err := proto.ReadMessageEnd(ctx); err != nil {
			return
		}

		s.mu.Lock()
		if s.dropNext > 0 {
			s.dropNext--
			s.mu.Unlock()
			return
		}
		code := s.result
		if code == scribe.ResultCodeOK {
			s.batches = append(s.batches, args.Messages)
		}
		s.mu.Unlock()

		res := scribe.LogResult{Success: &code}
		if err := proto.WriteMessageBegin(ctx, name, thrift.REPLY, seq); err != nil {
			return
		}
		if err := res.Write(ctx, proto); err != nil {
			return
		}
		if err := proto.WriteMessageEnd(ctx); err != nil {
			return
		}
		if err := proto.Flush(ctx); err != nil {
			return
		}
	}
}
