package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

// API exposes the gateway's control operations over HTTP.
type API struct {
	gateway *Gateway
	logger  zerolog.Logger
}

// NewAPI creates the HTTP control surface for the given gateway.
func NewAPI(gw *Gateway, logger zerolog.Logger) *API {
	return &API{
		gateway: gw,
		logger:  logger.With().Str("component", "API").Logger(),
	}
}

// RegisterHandlers attaches the control routes to the mux.
func (a *API) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sensors/start", a.startHandler)
	mux.HandleFunc("POST /api/sensors/stop", a.stopHandler)
	mux.HandleFunc("POST /api/sensors/ping", a.pingHandler)
	mux.HandleFunc("GET /api/sensors/client-topic", a.clientTopicHandler)
	mux.HandleFunc("GET /api/sensors", a.listHandler)
}

type statusResponse struct {
	Topic  string `json:"topic"`
	Status Status `json:"status,omitempty"`
	Result string `json:"result,omitempty"`
}

type topicResponse struct {
	Topic       string `json:"topic"`
	ClientTopic string `json:"clientTopic"`
}

func (a *API) startHandler(w http.ResponseWriter, r *http.Request) {
	topic, ok := a.requireTopic(w, r)
	if !ok {
		return
	}
	if err := a.gateway.SendStartSignal(r.Context(), topic); err != nil {
		a.writeError(w, topic, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, statusResponse{Topic: topic, Result: "start sent"})
}

func (a *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	topic, ok := a.requireTopic(w, r)
	if !ok {
		return
	}
	if err := a.gateway.SendStopSignal(r.Context(), topic); err != nil {
		a.writeError(w, topic, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, statusResponse{Topic: topic, Result: "stop sent"})
}

func (a *API) pingHandler(w http.ResponseWriter, r *http.Request) {
	topic, ok := a.requireTopic(w, r)
	if !ok {
		return
	}
	status, err := a.gateway.SendPingSignal(r.Context(), topic)
	if err != nil {
		a.writeError(w, topic, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statusResponse{Topic: topic, Status: status})
}

func (a *API) clientTopicHandler(w http.ResponseWriter, r *http.Request) {
	topic, ok := a.requireTopic(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, topicResponse{Topic: topic, ClientTopic: a.gateway.ClientTopic(topic)})
}

func (a *API) listHandler(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.gateway.Registry().Sensors())
}

func (a *API) requireTopic(w http.ResponseWriter, r *http.Request) (string, bool) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "missing required query parameter: topic", http.StatusBadRequest)
		return "", false
	}
	return topic, true
}

func (a *API) writeError(w http.ResponseWriter, topic string, err error) {
	if errors.Is(err, ErrNotConnected) {
		a.logger.Warn().Str("topic", topic).Msg("Rejected control request, broker not connected.")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	a.logger.Error().Err(err).Str("topic", topic).Msg("Control request failed.")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (a *API) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode response.")
	}
}
