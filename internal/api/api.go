// Package api exposes the flows over HTTP. The layer is deliberately
// thin: it decodes the request, runs the matching flow, and translates
// the outcome into a status code and a small JSON body. Collaborator
// errors never cross this boundary; a Failed outcome is an opaque 503.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/flow"
	"github.com/glaciergate/glaciergate/internal/metrics"
)

// Flows is the operation surface the handlers call. *flow.Flow satisfies it.
type Flows interface {
	RequestRetrieval(ctx context.Context, email, file string) flow.RequestOutcome
	Confirm(ctx context.Context, raw string) flow.ConfirmOutcome
	Download(ctx context.Context, raw, file string) flow.DownloadOutcome
}

// Server holds the HTTP handlers.
type Server struct {
	flows Flows
	log   zerolog.Logger
}

// New constructs a Server.
func New(flows Flows, log zerolog.Logger) *Server {
	return &Server{flows: flows, log: log}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/request", s.handleRequest)
	mux.HandleFunc("POST /api/confirm", s.handleConfirmAPI)
	mux.HandleFunc("GET /confirm", s.handleConfirmLink)
	mux.HandleFunc("GET /api/download", s.handleDownload)
	return mux
}

type requestBody struct {
	Email string `json:"email"`
	File  string `json:"file"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, "request", http.StatusBadRequest, map[string]string{
			"outcome": "rejected_validation", "reason": "bad_json",
		})
		return
	}

	switch out := s.flows.RequestRetrieval(r.Context(), body.Email, body.File).(type) {
	case flow.Registered:
		writeJSON(w, "request", http.StatusAccepted, map[string]string{
			"outcome": "registered",
		})
	case flow.RejectedValidation:
		writeJSON(w, "request", http.StatusBadRequest, map[string]string{
			"outcome": "rejected_validation", "stage": out.Stage, "reason": out.Reason,
		})
	case flow.RejectedAbuse:
		writeJSON(w, "request", http.StatusTooManyRequests, map[string]string{
			"outcome": "rejected_abuse", "reason": string(out.Reason),
		})
	case flow.Failed:
		s.fail(w, "request", out)
	default:
		s.unhandled(w, "request")
	}
}

type confirmBody struct {
	Token string `json:"token"`
}

func (s *Server) handleConfirmAPI(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, "confirm", http.StatusBadRequest, map[string]string{
			"outcome": "rejected", "reason": "bad_json",
		})
		return
	}
	s.confirm(w, r, body.Token)
}

// handleConfirmLink serves the link embedded in the confirmation mail, so
// it takes the token from the query string rather than a JSON body.
func (s *Server) handleConfirmLink(w http.ResponseWriter, r *http.Request) {
	s.confirm(w, r, r.URL.Query().Get("token"))
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request, token string) {
	switch out := s.flows.Confirm(r.Context(), token).(type) {
	case flow.Confirmed:
		writeJSON(w, "confirm", http.StatusOK, map[string]string{
			"outcome": "confirmed", "file": out.File, "restore_state": string(out.State),
		})
	case flow.RejectedToken:
		writeJSON(w, "confirm", http.StatusUnauthorized, map[string]string{
			"outcome": "rejected", "reason": out.Reason,
		})
	case flow.Failed:
		s.fail(w, "confirm", out)
	default:
		s.unhandled(w, "confirm")
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch out := s.flows.Download(r.Context(), q.Get("token"), q.Get("file")).(type) {
	case flow.Ready:
		writeJSON(w, "download", http.StatusOK, map[string]string{
			"outcome":    "ready",
			"url":        out.URL,
			"expires_at": out.ExpiresAt.UTC().Format(time.RFC3339),
		})
	case flow.DownloadRejected:
		writeJSON(w, "download", http.StatusForbidden, map[string]string{
			"outcome": "rejected", "reason": out.Reason,
		})
	case flow.NotReady:
		writeJSON(w, "download", http.StatusAccepted, map[string]string{
			"outcome": "not_ready", "state": string(out.State),
		})
	case flow.Failed:
		s.fail(w, "download", out)
	default:
		s.unhandled(w, "download")
	}
}

func (s *Server) fail(w http.ResponseWriter, handler string, out flow.Failed) {
	// Logged here, once, with the wrapped cause; the response stays opaque.
	s.log.Error().Err(out.Err).Str("handler", handler).Msg("operation failed")
	writeJSON(w, handler, http.StatusServiceUnavailable, map[string]string{
		"outcome": "failed",
	})
}

func (s *Server) unhandled(w http.ResponseWriter, handler string) {
	s.log.Error().Str("handler", handler).Msg("unhandled outcome type")
	writeJSON(w, handler, http.StatusInternalServerError, map[string]string{
		"outcome": "failed",
	})
}

func writeJSON(w http.ResponseWriter, handler string, status int, body map[string]string) {
	metrics.HTTPRequests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
