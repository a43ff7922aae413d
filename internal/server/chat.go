package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/inboundops/triage/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type chatRequest struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type chatResponse struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// handleWebSocket serves follow-up chat over a websocket. Each message
// carries a conversation id from a prior triage run and the client gets
// the grounded reply back on the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		switch req.Type {
		case "message":
			if req.ConversationID == "" || req.Content == "" {
				s.sendChatError(conn, req.ConversationID, "conversation_id and content are required")
				continue
			}
			reply, err := s.sessions.Continue(r.Context(), req.ConversationID, req.Content)
			if err != nil {
				if errors.Is(err, session.ErrNotFound) {
					s.sendChatError(conn, req.ConversationID, "conversation not found")
					continue
				}
				log.Printf("websocket follow-up failed for %s: %v", req.ConversationID, err)
				s.sendChatError(conn, req.ConversationID, "failed to process message")
				continue
			}
			s.sendChat(conn, chatResponse{Type: "reply", ConversationID: req.ConversationID, Content: reply})
		case "ping":
			s.sendChat(conn, chatResponse{Type: "pong", ConversationID: req.ConversationID})
		default:
			s.sendChatError(conn, req.ConversationID, "unknown message type: "+req.Type)
		}
	}
}

func (s *Server) sendChat(conn *websocket.Conn, resp chatResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}

func (s *Server) sendChatError(conn *websocket.Conn, conversationID, msg string) {
	s.sendChat(conn, chatResponse{Type: "error", ConversationID: conversationID, Content: msg})
}
