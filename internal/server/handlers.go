package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inboundops/triage/internal/guardrail"
	"github.com/inboundops/triage/internal/pipeline"
	"github.com/inboundops/triage/internal/session"
)

// maxUploadBytes caps knowledge base uploads at 10 MB.
const maxUploadBytes = 10 << 20

type triageRequest struct {
	SenderEmail string `json:"sender_email"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

type triageResponse struct {
	ConversationID string             `json:"conversation_id"`
	Decision       *pipeline.Decision `json:"decision"`
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := pipeline.Email{SenderEmail: req.SenderEmail, Subject: req.Subject, Body: req.Body}
	decision, err := s.pipe.Run(r.Context(), email)
	if err != nil {
		var violation *guardrail.Violation
		if errors.As(err, &violation) {
			writeError(w, http.StatusBadRequest, violation.Error())
			return
		}
		log.Printf("triage run failed: %v", err)
		writeError(w, http.StatusInternalServerError, "triage failed")
		return
	}

	conversationID, err := s.sessions.Start(r.Context(), email, decision)
	if err != nil {
		log.Printf("failed to start conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to persist conversation")
		return
	}

	writeJSON(w, http.StatusOK, triageResponse{ConversationID: conversationID, Decision: decision})
}

type messageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type messageResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

func (s *Server) handleConversationMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConversationID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and message are required")
		return
	}

	reply, err := s.sessions.Continue(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Printf("conversation %s follow-up failed: %v", req.ConversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{ConversationID: req.ConversationID, Reply: reply})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	messages, err := s.sessions.Messages(r.Context(), conversationID, 0)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Printf("failed to list messages for %s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

func (s *Server) handleKBUpload(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base ingestion is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	stats, err := s.ingestor.IngestFile(r.Context(), header.Filename, content)
	if err != nil {
		log.Printf("ingest of %s failed: %v", header.Filename, err)
		writeError(w, http.StatusUnprocessableEntity, "failed to ingest document: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
