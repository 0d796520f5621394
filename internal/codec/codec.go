// Package codec implements the time-keyed XOR obfuscation shared by the
// device agent, the abnormal sender and the collector.
//
// A record is serialized to compact JSON, every byte is XORed with a key
// derived from the record timestamp, and the result is hex encoded in upper
// case. The key is never sent: the receiver recomputes it from the keyId.
// This is obfuscation, not encryption.
package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"CapIot.occupancy/internal/models"
)

// ErrInvalidEnvelope is returned by Open for envelopes that do not decode to
// a record.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// NewRecord builds the record for one upload. keyId is derived from the
// timestamp so the two always agree.
func NewRecord(deviceID string, timestamp int64, counts models.Counts) models.TelemetryRecord {
	keyID, _ := DeriveKey(timestamp)
	return models.TelemetryRecord{
		DeviceID:  deviceID,
		Timestamp: timestamp,
		KeyID:     keyID,
		Payload:   counts,
	}
}

// Marshal returns the canonical serialization of a record: compact JSON with
// fixed field order, no HTML escaping and no trailing newline. Non-ASCII
// characters are written as \uXXXX escapes (UTF-16 surrogate pairs above
// U+FFFF) so the text is always one byte per character.
func Marshal(record models.TelemetryRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// escapeNonASCII rewrites every non-ASCII rune. It relies on the encoder
// output being valid UTF-8 with non-ASCII runes only inside strings.
func escapeNonASCII(data []byte) []byte {
	if bytes.IndexFunc(data, func(r rune) bool { return r >= utf8.RuneSelf }) < 0 {
		return data
	}

	out := make([]byte, 0, len(data)+16)
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		switch {
		case r < utf8.RuneSelf:
			out = append(out, data[0])
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, hi, lo)
		default:
			out = fmt.Appendf(out, `\u%04x`, r)
		}
		data = data[size:]
	}
	return out
}

// XOR applies the byte transform. Applying it twice with the same key
// returns the input.
func XOR(data []byte, key byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key
	}
	return out
}

// Seal obfuscates a record into an envelope.
func Seal(record models.TelemetryRecord) (models.EncryptedEnvelope, error) {
	plain, err := Marshal(record)
	if err != nil {
		return models.EncryptedEnvelope{}, err
	}

	keyID, key := DeriveKey(record.Timestamp)
	return models.EncryptedEnvelope{
		DeviceID:  record.DeviceID,
		KeyID:     keyID,
		Encrypted: strings.ToUpper(hex.EncodeToString(XOR(plain, key))),
	}, nil
}

// Open reverses Seal using the key recomputed from the envelope keyId.
func Open(envelope models.EncryptedEnvelope) (models.TelemetryRecord, error) {
	raw, err := hex.DecodeString(envelope.Encrypted)
	if err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var record models.TelemetryRecord
	if err := json.Unmarshal(XOR(raw, KeyForID(envelope.KeyID)), &record); err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return record, nil
}
