package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/service"
	"CapIot.occupancy/internal/utils"
	"github.com/gorilla/mux"
)

// CollectorController exposes the collector service over HTTP. Upload
// responses are plain text, which is what devices log.
type CollectorController struct {
	service *service.CollectorService
	logger  *slog.Logger
}

// NewCollectorController creates a new CollectorController.
func NewCollectorController(svc *service.CollectorService, logger *slog.Logger) *CollectorController {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectorController{
		service: svc,
		logger:  logger,
	}
}

// HandleUpload accepts one envelope from a device.
func (c *CollectorController) HandleUpload(w http.ResponseWriter, r *http.Request) {
	var envelope models.EncryptedEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody)).Decode(&envelope); err != nil {
		utils.RespondWithText(w, http.StatusBadRequest, "Missing fields")
		return
	}
	defer r.Body.Close()

	outcome, err := c.service.Ingest(r.Context(), envelope)
	switch {
	case err == nil:
		c.logger.Debug("upload handled", "device_id", envelope.DeviceID, "outcome", outcome)
		utils.RespondWithText(w, http.StatusOK, "OK")
	case errors.Is(err, service.ErrMissingFields):
		utils.RespondWithText(w, http.StatusBadRequest, "Missing fields")
	case errors.Is(err, service.ErrInvalidPayload):
		c.logger.Warn("undecodable upload", "device_id", envelope.DeviceID, "key_id", envelope.KeyID, "error", err)
		utils.RespondWithText(w, http.StatusBadRequest, "Invalid payload")
	case errors.Is(err, service.ErrClockDrift):
		c.logger.Warn("upload rejected", "device_id", envelope.DeviceID, "error", err)
		utils.RespondWithText(w, http.StatusUnauthorized, "Clock drift too large")
	default:
		c.logger.Error("upload failed", "device_id", envelope.DeviceID, "error", err)
		utils.RespondWithText(w, http.StatusInternalServerError, "Server error")
	}
}

// HandleStatus returns the stored status of a device.
func (c *CollectorController) HandleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]

	status, ok, err := c.service.Status(r.Context(), deviceID)
	if err != nil {
		c.logger.Error("status lookup failed", "device_id", deviceID, "error", err)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeInternalServerError, "Server error", http.StatusInternalServerError))
		return
	}
	if !ok {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeNotFound, "Unknown device "+deviceID, http.StatusNotFound))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, status)
}

// HandleUnblock clears a device block.
func (c *CollectorController) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]

	if err := c.service.Unblock(r.Context(), deviceID); err != nil {
		c.logger.Error("unblock failed", "device_id", deviceID, "error", err)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeInternalServerError, "Server error", http.StatusInternalServerError))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}
