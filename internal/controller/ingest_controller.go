package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/state"
	"CapIot.occupancy/internal/utils"
)

const (
	fieldPeopleEntered = "peopleEntered"
	fieldPeopleExited  = "peopleExited"

	maxUpdateBody = 1 << 20
)

var errNotInteger = errors.New("value is not an integer")

// IngestController handles state updates from the local sensor controller.
type IngestController struct {
	state  *state.Occupancy
	logger *slog.Logger
}

// NewIngestController creates a new IngestController.
func NewIngestController(occupancy *state.Occupancy, logger *slog.Logger) *IngestController {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestController{
		state:  occupancy,
		logger: logger,
	}
}

// HandleUpdate replaces the provided occupancy fields with their new
// absolute values. Omitted fields keep their current value.
func (c *IngestController) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBody))
	if err != nil {
		c.logger.Warn("failed to read update body", "error", err)
		utils.RespondWithError(w, noJSONData())
		return
	}
	defer r.Body.Close()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		utils.RespondWithError(w, noJSONData())
		return
	}

	entered, err := optionalInt(fields, fieldPeopleEntered)
	if err != nil {
		utils.RespondWithError(w, invalidValue(fieldPeopleEntered))
		return
	}
	exited, err := optionalInt(fields, fieldPeopleExited)
	if err != nil {
		utils.RespondWithError(w, invalidValue(fieldPeopleExited))
		return
	}

	counts := c.state.Replace(entered, exited)
	c.logger.Info("state updated",
		"people_entered", counts.PeopleEntered,
		"people_exited", counts.PeopleExited,
	)

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleState returns the current occupancy snapshot.
func (c *IngestController) HandleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, c.state.Snapshot())
}

func noJSONData() models.APIError {
	return models.NewAPIError(models.ErrorCodeNoJSONData, "No JSON data", http.StatusBadRequest)
}

func invalidValue(field string) models.APIError {
	return models.NewAPIError(models.ErrorCodeInvalidFormat, "Invalid value for "+field, http.StatusBadRequest)
}

// optionalInt returns nil when the field is absent.
func optionalInt(fields map[string]json.RawMessage, name string) (*int, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	v, err := coerceInt(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &v, nil
}

// coerceInt accepts JSON numbers (fractions truncated toward zero), numeric
// strings and booleans.
func coerceInt(raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return 0, err
	}

	switch v := value.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 0); err == nil {
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return truncate(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 0)
		if err != nil {
			return 0, errNotInteger
		}
		return int(i), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errNotInteger
	}
}

func truncate(f float64) (int, error) {
	t := math.Trunc(f)
	if math.IsNaN(t) || t >= math.MaxInt || t < math.MinInt {
		return 0, errNotInteger
	}
	return int(t), nil
}
