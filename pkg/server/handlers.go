package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type askRequest struct {
	Question string `json:"question"`
}

// handleAsk answers the question taken from the "question" query or form
// parameter, or from a JSON body, with a plain-text reply.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var question string
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondText(w, http.StatusBadRequest, "invalid request body")
			return
		}
		question = req.Question
	} else {
		question = r.FormValue("question")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		s.respondText(w, http.StatusBadRequest, "missing question parameter")
		return
	}

	s.logger.Debug("question received",
		zap.String("question", question),
		zap.String("request_id", middleware.GetReqID(r.Context())))

	qc, err := s.agent.Ask(r.Context(), question)
	if err != nil {
		s.logger.Error("answering failed", zap.String("question", question), zap.Error(err))
		s.respondText(w, http.StatusBadGateway, qc.Answer)
		return
	}
	s.respondText(w, http.StatusOK, qc.Answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Debug("writing response failed", zap.Error(err))
	}
}
