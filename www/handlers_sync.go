package www

import (
	"encoding/json"
	"net/http"

	"linetrack/protocol"
)

// handleSyncReport stores a report posted by the vehicle.
func (h *Handlers) handleSyncReport(w http.ResponseWriter, r *http.Request) {
	var rep protocol.VehicleReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&rep); err != nil {
		jsonError(w, "invalid report: "+err.Error(), http.StatusBadRequest)
		return
	}
	if rep.VehicleID == "" {
		rep.VehicleID = h.engine.AppConfig().VehicleID
	}
	h.engine.HandleReport(rep)
	jsonOK(w, map[string]string{"status": "ok"})
}

// handleSyncCommand returns the command derived from the station state.
func (h *Handlers) handleSyncCommand(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, h.engine.Command())
}
