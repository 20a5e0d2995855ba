// Package lineproto is the TCP line-oriented control interface. Clients send
// one command per line, arguments separated by spaces with optional double
// quotes, and receive one JSON document per command.
package lineproto

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"

	"tremolo/internal/command"
)

const greeting = "OK tremolod 1\n"

// Server accepts control connections and feeds them to the dispatcher.
type Server struct {
	dispatcher *command.Dispatcher
	logger     *log.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New creates a server around d.
func New(d *command.Dispatcher, logger *log.Logger) *Server {
	return &Server{dispatcher: d, logger: logger}
}

// ListenAndServe binds addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding control interface: %w", err)
	}
	s.logger.Info("control interface listening", "addr", addr)
	go s.Serve(ln)
	return nil
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting and waits for in-flight connections to finish their
// current command.
func (s *Server) Close() {
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	s.logger.Debug("client connected", "remote", conn.RemoteAddr())

	if _, err := conn.Write([]byte(greeting)); err != nil {
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 8192)
	for scanner.Scan() {
		fields := SplitCommand(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "bye" {
			return
		}

		// Finalized and idle commands resolve later; the connection blocks
		// until then, which is exactly the long-poll the notify command
		// wants.
		resCh := make(chan []byte, 1)
		s.dispatcher.Run(fields[0], fields[1:], func(r command.Result, cerr *command.Error) {
			var payload any = r
			if cerr != nil {
				payload = map[string]any{"error": cerr}
			}
			out, err := json.Marshal(payload)
			if err != nil {
				out = []byte(`{"error":{"code":"internal","message":"encoding failed"}}`)
			}
			resCh <- out
		})
		out := <-resCh
		if _, err := conn.Write(append(out, '\n')); err != nil {
			return
		}
	}
	s.logger.Debug("client disconnected", "remote", conn.RemoteAddr())
}
