package monitor

import (
	"context"
	"log/slog"

	"github.com/callwatch/callwatch/internal/ami"
	"github.com/callwatch/callwatch/internal/database/models"
)

// deviceStates maps the switch's numeric extension status codes to the
// descriptive device-state label.
var deviceStates = map[int]string{
	-1: "UNKNOWN",
	0:  "NOT_INUSE",
	1:  "INUSE",
	2:  "BUSY",
	4:  "UNAVAILABLE",
	8:  "RINGING",
	9:  "RINGINUSE",
	16: "ONHOLD",
}

// availability maps the same codes to the coarse online/offline/unknown
// classification. Anything reachable counts as online, even when busy.
var availability = map[int]string{
	0:  models.ExtOnline,
	1:  models.ExtOnline,
	2:  models.ExtOnline,
	4:  models.ExtOffline,
	8:  models.ExtOnline,
	9:  models.ExtOnline,
	16: models.ExtOnline,
}

// deviceStateFor returns the label for a status code.
func deviceStateFor(code int) string {
	if s, ok := deviceStates[code]; ok {
		return s
	}
	return "UNKNOWN"
}

// availabilityFor returns the coarse availability for a status code.
func availabilityFor(code int) string {
	if a, ok := availability[code]; ok {
		return a
	}
	return models.ExtUnknown
}

// handleExtensionStatus applies an ExtensionStatus event. Numbers outside
// the accepted extension pattern are dropped before any store access, and
// the event never creates extensions that are not provisioned.
func (m *Monitor) handleExtensionStatus(ctx context.Context, msg ami.Message) error {
	number := msg.Get("Exten")
	if !IsExtension(number) {
		slog.Debug("ignoring status for non-extension", "exten", number)
		return nil
	}

	ext, err := m.exts.GetByNumber(ctx, number)
	if err != nil {
		return err
	}
	if ext == nil {
		slog.Debug("status for unprovisioned extension", "exten", number)
		return nil
	}

	code := msg.GetInt("Status")
	now := m.clock()

	ext.LastSeen = &now
	if ext.StatusCode != code {
		ext.LastStatusChange = &now
	}
	ext.StatusCode = code
	ext.Status = availabilityFor(code)
	ext.DeviceState = deviceStateFor(code)

	updated, err := m.exts.UpdateStatus(ctx, ext)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	m.sink.ExtensionStatusUpdated(ext)
	return nil
}
