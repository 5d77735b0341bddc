package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clusterlens/clusterlens/internal/infra/pinger"
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

type statusResponse struct {
	ConnectionStatus mirror.ConnectionStatus            `json:"connectionStatus"`
	LastUpdated      time.Time                          `json:"lastUpdated"`
	Uptime           string                             `json:"uptime"`
	Streams          map[mirror.Kind]mirror.StreamState `json:"streams"`
	Subscribers      int                                `json:"subscribers"`
	Components       map[string]pinger.Stats            `json:"components"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if !s.health.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-s.processor.Ready():
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, statusResponse{
		ConnectionStatus: s.state.ConnectionStatus(),
		LastUpdated:      s.state.LastUpdated(),
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		Streams:          s.streams.States(),
		Subscribers:      s.broadcaster.SubscriberCount(),
		Components:       s.health.AllStats(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.state.Snapshot())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.state.Snapshot().Nodes)
}

func (s *Server) handlePods(w http.ResponseWriter, r *http.Request) {
	if namespace := r.URL.Query().Get("namespace"); namespace != "" {
		s.writeJSON(w, r, s.state.ListByNamespace(namespace))

		return
	}

	if node := r.URL.Query().Get("node"); node != "" {
		s.writeJSON(w, r, s.state.ListByNode(node))

		return
	}

	s.writeJSON(w, r, s.state.Snapshot().Pods)
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.state.Snapshot().Namespaces)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.state.Metrics())
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.usage.ClusterUsageQuery(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "usage query failed", "reason", err)
		http.Error(w, "usage unavailable", http.StatusBadGateway)

		return
	}

	s.writeJSON(w, r, usage)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
