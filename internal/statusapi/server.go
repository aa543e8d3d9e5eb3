package statusapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielpatrickdp/segment-replay/internal/playback"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10

	subscriberBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// #region commands
// Command is a playback request from a remote client. The host loop applies it between ticks.
type Command string

const (
	CommandPlay    Command = "play"
	CommandLoop    Command = "loop"
	CommandPause   Command = "pause"
	CommandUnpause Command = "unpause"
	CommandStop    Command = "stop"
	CommandReset   Command = "reset"
)

func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToLower(strings.TrimSpace(s))); c {
	case CommandPlay, CommandLoop, CommandPause, CommandUnpause, CommandStop, CommandReset:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}
// #endregion commands

// #region server
// Server exposes the latest playback status over HTTP and streams every update over websockets.
type Server struct {
	mu   sync.RWMutex
	last playback.Status
	subs map[chan playback.Status]struct{}

	commands chan Command
}

func New() *Server {
	return &Server{
		subs:     make(map[chan playback.Status]struct{}),
		commands: make(chan Command, 16),
	}
}

// Publish stores st and fans it out. A slow subscriber loses its oldest queued update.
func (s *Server) Publish(st playback.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = st
	for ch := range s.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *Server) Last() playback.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Commands delivers remote playback requests in arrival order.
func (s *Server) Commands() <-chan Command {
	return s.commands
}

func (s *Server) subscribe() (chan playback.Status, playback.Status) {
	ch := make(chan playback.Status, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[ch] = struct{}{}
	return ch, s.last
}

func (s *Server) unsubscribe(ch chan playback.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, ch)
}

func (s *Server) enqueue(c Command) bool {
	select {
	case s.commands <- c:
		return true
	default:
		return false
	}
}

// Handler routes /status, /status/ws and /control.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /status/ws", s.handleWS)
	mux.HandleFunc("POST /control", s.handleControl)
	return mux
}
// #endregion server

// #region http
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Last())
}

type controlRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	c, err := ParseCommand(req.Command)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.enqueue(c) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "command queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"command": string(c)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[STATUS] write response: %v", err)
	}
}
// #endregion http

// #region websocket
type wsInbound struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
}

type wsOutbound struct {
	Type    string           `json:"type"`
	Status  *playback.Status `json:"status,omitempty"`
	Command string           `json:"command,omitempty"`
	Message string           `json:"message,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, current := s.subscribe()
	defer s.unsubscribe(updates)

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		log.Printf("[STATUS] ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	replies := make(chan wsOutbound, 8)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		write := func(out wsOutbound) bool {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return false
			}
			return conn.WriteJSON(out) == nil
		}
		if !write(wsOutbound{Type: "status", Status: &current}) {
			return
		}
		for {
			select {
			case <-done:
				return
			case st := <-updates:
				if !write(wsOutbound{Type: "status", Status: &st}) {
					return
				}
			case out := <-replies:
				if !write(out) {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			close(done)
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			reply(replies, wsOutbound{Type: "pong"})
		case "control":
			c, err := ParseCommand(in.Command)
			if err != nil {
				reply(replies, wsOutbound{Type: "error", Message: err.Error()})
				continue
			}
			if !s.enqueue(c) {
				reply(replies, wsOutbound{Type: "error", Message: "command queue full"})
				continue
			}
			reply(replies, wsOutbound{Type: "accepted", Command: string(c)})
		default:
			reply(replies, wsOutbound{Type: "error", Message: "unknown message type"})
		}
	}
}

func reply(ch chan<- wsOutbound, out wsOutbound) {
	select {
	case ch <- out:
	default:
	}
}
// #endregion websocket
