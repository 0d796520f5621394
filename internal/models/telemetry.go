package models

// Counts is the current absolute occupancy reported by the sensor.
type Counts struct {
	PeopleEntered int `json:"peopleEntered"`
	PeopleExited  int `json:"peopleExited"`
}

// TelemetryRecord is the plaintext built for one upload. Field order is the
// wire order of the serialized record and must not change.
type TelemetryRecord struct {
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp"`
	KeyID     int64  `json:"keyId"`
	Payload   Counts `json:"payload"`
}

// EncryptedEnvelope is what goes over the wire to the collector.
type EncryptedEnvelope struct {
	DeviceID  string `json:"deviceId"`
	KeyID     int64  `json:"keyId"`
	Encrypted string `json:"encrypted"`
}
