package httpapi

import (
	"net/http"
	"time"

	"github.com/chahalrohit/smart-expense-tracker/internal/api"
	"github.com/chahalrohit/smart-expense-tracker/pkg/config"
	"github.com/chahalrohit/smart-expense-tracker/pkg/db"
)

type systemHandlers struct {
	cfg       config.Config
	db        StateReader
	ready     func() error
	startedAt time.Time
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      float64   `json:"uptime"`
	Environment string    `json:"environment"`
}

type readyResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Reason   string `json:"reason,omitempty"`
}

type rootResponse struct {
	Message     string `json:"message"`
	Status      string `json:"status"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type protectedResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// Health is the liveness probe. It never looks at the database.
func (h systemHandlers) Health(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, healthResponse{
		Status:      "OK",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startedAt).Seconds(),
		Environment: string(h.cfg.Environment),
	})
}

func (h systemHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	state := db.Disconnected
	if h.db != nil {
		state = h.db.State()
	}
	if state != db.Connected {
		api.WriteJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "degraded", Database: state.String()})
		return
	}
	if h.ready != nil {
		if err := h.ready(); err != nil {
			api.WriteJSON(w, http.StatusServiceUnavailable, readyResponse{
				Status:   "degraded",
				Database: state.String(),
				Reason:   err.Error(),
			})
			return
		}
	}
	api.WriteJSON(w, http.StatusOK, readyResponse{Status: "ready", Database: state.String()})
}

func (h systemHandlers) Root(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, rootResponse{
		Message:     "Smart Expense Tracker API",
		Status:      "running",
		Version:     Version,
		Environment: string(h.cfg.Environment),
	})
}

func protected(w http.ResponseWriter, r *http.Request) {
	id, _ := api.IdentityFromContext(r.Context())
	api.WriteJSON(w, http.StatusOK, protectedResponse{
		Message: "This is a protected route",
		UserID:  id.UserID,
	})
}
