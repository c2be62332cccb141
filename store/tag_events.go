package store

import "time"

// TagEvent records a mission tag reported by the vehicle.
type TagEvent struct {
	ID         int64     `json:"id"`
	VehicleID  string    `json:"vehicle_id"`
	TagID      uint32    `json:"tag_id"`
	SpeedLimit uint32    `json:"speed_limit"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

func (db *DB) LogTagEvent(vehicleID string, tagID, speedLimit uint32, state string) error {
	_, err := db.Exec(db.Q(`INSERT INTO tag_events (vehicle_id, tag_id, speed_limit, state) VALUES (?, ?, ?, ?)`),
		vehicleID, int64(tagID), int64(speedLimit), state)
	return err
}

func (db *DB) ListTagEvents(limit int) ([]*TagEvent, error) {
	rows, err := db.Query(db.Q(`SELECT id, vehicle_id, tag_id, speed_limit, state, created_at FROM tag_events ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*TagEvent
	for rows.Next() {
		var e TagEvent
		var tagID, limit int64
		var createdAt any
		if err := rows.Scan(&e.ID, &e.VehicleID, &tagID, &limit, &e.State, &createdAt); err != nil {
			return nil, err
		}
		e.TagID = uint32(tagID)
		e.SpeedLimit = uint32(limit)
		e.CreatedAt = scanTime(createdAt)
		list = append(list, &e)
	}
	return list, rows.Err()
}
