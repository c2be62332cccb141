package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"linetrack/protocol"
	"linetrack/syncchan"
)

// VehicleStatus is what the vehicle exposes to the station.
type VehicleStatus interface {
	Health() protocol.HealthStatus
	Status() protocol.VehicleReport
}

// NewVehicleRouter serves the vehicle health probe and current status.
func NewVehicleRouter(v VehicleStatus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get(syncchan.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, v.Health())
	})
	r.Get(syncchan.PathStatus, func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, v.Status())
	})
	return r
}
