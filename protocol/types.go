package protocol

// Message type constants for the vehicle/station sync protocol.
const (
	// Vehicle -> Station (published on the reports topic)
	TypeVehicleReport = "vehicle.report"
	TypeVehicleHealth = "vehicle.health"

	// Station -> Vehicle (published on the commands topic)
	TypeStationCommand = "station.command"

	// Station -> observers (published on the events topic by the outbox drainer)
	TypeStationEvent = "station.event"
)

// Roles for Address.Role.
const (
	RoleVehicle = "vehicle"
	RoleStation = "station"
)

// Protocol version.
const Version = 1
