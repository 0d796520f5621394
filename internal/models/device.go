package models

import "time"

// DeviceStatus is the collector's view of a device. Times are unix
// milliseconds; LastTimestamp is the record timestamp (unix seconds) of the
// last accepted upload.
type DeviceStatus struct {
	DeviceID      string `json:"deviceId"`
	Blocked       bool   `json:"blocked"`
	BlockedReason string `json:"blockedReason,omitempty"`
	BlockedAt     int64  `json:"blockedAt,omitempty"`
	LastTimestamp int64  `json:"lastTimestamp,omitempty"`
	LastSeen      int64  `json:"lastSeen"`
}

// OccupancyLog is one accepted upload as stored by the collector.
type OccupancyLog struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"deviceId"`
	Timestamp     int64     `json:"timestamp"`
	PeopleEntered int       `json:"peopleEntered"`
	PeopleExited  int       `json:"peopleExited"`
	ReceivedAt    time.Time `json:"receivedAt"`
}
