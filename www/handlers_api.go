package www

import (
	"encoding/json"
	"errors"
	"net/http"

	"linetrack/station"
)

type stateResponse struct {
	station.Snapshot
	Warning *station.Warning `json:"warning,omitempty"`
}

func (h *Handlers) apiState(w http.ResponseWriter, r *http.Request) {
	m := h.engine.Machine()
	resp := stateResponse{Snapshot: m.Snapshot()}
	if warn, ok := m.Warning(); ok {
		resp.Warning = &warn
	}
	jsonOK(w, resp)
}

// apiReport serves the latest report, preferring the shared cache.
func (h *Handlers) apiReport(w http.ResponseWriter, r *http.Request) {
	if c := h.engine.Cache(); c != nil {
		rep, err := c.GetReport(r.Context(), h.engine.AppConfig().VehicleID)
		if err == nil && rep != nil {
			jsonOK(w, rep)
			return
		}
	}
	snap := h.engine.Machine().Snapshot()
	if !snap.HaveReport {
		jsonError(w, "no report yet", http.StatusNotFound)
		return
	}
	jsonOK(w, snap.Report)
}

func (h *Handlers) apiTransitions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	if db := h.engine.DB(); db != nil {
		trs, err := db.ListTransitions(r.URL.Query().Get("machine"), limit)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonOK(w, trs)
		return
	}
	evs, err := h.engine.Cache().RecentTransitions(r.Context(), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonOK(w, evs)
}

func (h *Handlers) apiTagEvents(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		jsonOK(w, []any{})
		return
	}
	evs, err := db.ListTagEvents(queryLimit(r, 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonOK(w, evs)
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Machine().Snapshot()
	body := map[string]any{
		"status":    "ok",
		"station":   snap.State,
		"health":    snap.Health,
		"messaging": h.engine.MessagingConnected(),
		"transport": h.engine.AppConfig().Sync.Transport,
	}
	if db := h.engine.DB(); db != nil {
		if pending, dropped, err := db.OutboxBacklog(); err == nil {
			body["outbox"] = map[string]int{"pending": pending, "dropped": dropped}
		}
	}
	jsonOK(w, body)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (h *Handlers) apiCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if !station.ValidAction(req.Command) {
		jsonError(w, "unknown command "+req.Command, http.StatusBadRequest)
		return
	}
	if err := h.engine.Apply(req.Command); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, station.ErrRejected) {
			code = http.StatusConflict
		}
		jsonError(w, err.Error(), code)
		return
	}
	jsonOK(w, map[string]any{
		"status":   "ok",
		"state":    h.engine.Machine().State(),
		"command":  h.engine.Command().Command,
		"operator": h.operator(r),
	})
}
