package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/kbyg/internal/tools"
)

const wsWriteTimeout = 5 * time.Second

type wsFrame struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

type wsReply struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// handleWS runs tool calls sent as frames over one websocket. Frames on a
// connection are answered in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[server] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("ws-%d", s.nextID.Add(1))
	s.clients.Store(clientID, &wsClient{conn: conn, id: clientID})
	if s.opts.Metrics != nil {
		s.opts.Metrics.ClientConnected()
	}
	log.Printf("[server] websocket client connected: %s", clientID)

	defer func() {
		s.clients.Delete(clientID)
		if s.opts.Metrics != nil {
			s.opts.Metrics.ClientDisconnected()
		}
		conn.CloseNow()
		log.Printf("[server] websocket client disconnected: %s", clientID)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		reply := s.handleFrame(ctx, data)
		out, err := json.Marshal(reply)
		if err != nil {
			out, _ = json.Marshal(wsReply{ID: reply.ID, Error: "encode reply: " + err.Error()})
		}
		if err := write(ctx, conn, out); err != nil {
			log.Printf("[server] websocket write to %s failed: %v", clientID, err)
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, data []byte) wsReply {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return wsReply{Error: "invalid frame: " + err.Error()}
	}
	if strings.TrimSpace(frame.Tool) == "" {
		return wsReply{ID: frame.ID, Error: "Tool name is required"}
	}
	args, err := tools.ParseArgs(frame.Arguments)
	if err != nil {
		return wsReply{ID: frame.ID, Error: err.Error()}
	}
	resp := s.opts.Dispatcher.Call(ctx, frame.Tool, args)
	return wsReply{ID: frame.ID, Success: resp.Success, Data: resp.Data, Error: resp.Error}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
