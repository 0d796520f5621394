package uploader

import "CapIot.occupancy/internal/models"

// WithSealer replaces codec.Seal.
func WithSealer(seal func(models.TelemetryRecord) (models.EncryptedEnvelope, error)) Option {
	return func(u *Uploader) { u.seal = seal }
}
