package app

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/consultease/consultease/pkg/consultation"
	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/events"
	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/presence"
	"github.com/consultease/consultease/pkg/router"
	"github.com/consultease/consultease/pkg/storage"
	"github.com/consultease/consultease/pkg/wire"
)

// heartbeatRate bounds how many desk heartbeats per second reach the
// handler; a misconfigured desk unit in a reboot loop can flood this topic.
const (
	heartbeatRate  rate.Limit = 10
	heartbeatBurst            = 20
)

// addRoutes installs the inbound topic rules. First match wins, so the
// specific faculty topics come before the legacy catch-alls.
func addRoutes(
	rtr *router.Router,
	store storage.Store,
	engine *presence.Engine,
	coord *consultation.Coordinator,
	bus *events.Bus,
) {
	rtr.Add(router.Rule{
		Name:    "faculty-status",
		Pattern: wire.FacultyStatusPattern,
		JSON:    true,
		Handler: func(ctx context.Context, topic string, payload []byte) error {
			facultyID, err := wire.ParseFacultyID(topic)
			if err != nil {
				return err
			}
			var upd wire.StatusUpdate
			if err := wire.Decode(payload, &upd); err != nil {
				return cerrors.NewValidationError("decoding status update", err)
			}
			present := upd.Present
			if upd.Status != "" {
				present = upd.Status == wire.PresenceAvailable
			}
			update := presence.Update{
				FacultyID:     facultyID,
				Present:       present,
				Source:        "status",
				InGracePeriod: upd.InGracePeriod,
			}
			if upd.NTPSyncStatus != "" {
				ntp, ok := models.ParseNTPSyncStatus(upd.NTPSyncStatus)
				if !ok {
					return cerrors.NewValidationError("unknown ntp sync status: "+upd.NTPSyncStatus, nil)
				}
				update.NTPSyncStatus = &ntp
			}
			return presenceResult(topic, engine.Apply(ctx, update))
		},
	})

	rtr.Add(router.Rule{
		Name:    "faculty-mac-status",
		Pattern: wire.FacultyMacStatusPattern,
		JSON:    true,
		Handler: func(ctx context.Context, topic string, payload []byte) error {
			facultyID, err := wire.ParseFacultyID(topic)
			if err != nil {
				return err
			}
			var upd wire.MacStatus
			if err := wire.Decode(payload, &upd); err != nil {
				return cerrors.NewValidationError("decoding mac status", err)
			}
			switch upd.Status {
			case wire.MacFacultyPresent, wire.MacFacultyAbsent:
			default:
				return cerrors.NewValidationError("unknown mac status: "+upd.Status, nil)
			}
			present := upd.Status == wire.MacFacultyPresent
			return presenceResult(topic, engine.HandleMacStatus(ctx, facultyID, upd.MAC, present))
		},
	})

	rtr.Add(router.Rule{
		Name:    "faculty-responses",
		Pattern: wire.FacultyResponsesPattern,
		JSON:    true,
		Handler: func(ctx context.Context, topic string, payload []byte) error {
			facultyID, err := wire.ParseFacultyID(topic)
			if err != nil {
				return err
			}
			var resp wire.Response
			if err := wire.Decode(payload, &resp); err != nil {
				return cerrors.NewValidationError("decoding response", err)
			}
			return coord.OnResponse(ctx, facultyID, resp.MessageID, resp.ResponseType)
		},
	})

	rtr.Add(router.Rule{
		Name:    "faculty-heartbeat",
		Pattern: wire.FacultyHeartbeatPattern,
		JSON:    true,
		Limit:   heartbeatRate,
		Burst:   heartbeatBurst,
		Handler: func(_ context.Context, topic string, payload []byte) error {
			facultyID, err := wire.ParseFacultyID(topic)
			if err != nil {
				return err
			}
			var hb wire.Heartbeat
			if err := wire.Decode(payload, &hb); err != nil {
				return cerrors.NewValidationError("decoding heartbeat", err)
			}
			logger.Debugw("desk heartbeat",
				"faculty_id", facultyID,
				"uptime", hb.Uptime,
				"free_heap", hb.FreeHeap,
				"wifi_rssi", hb.WiFiRSSI,
				"ntp_sync_status", hb.NTPSyncStatus,
			)
			return nil
		},
	})

	rtr.Add(router.Rule{
		Name:    "legacy-status",
		Pattern: wire.LegacyStatusTopic,
		Handler: func(ctx context.Context, topic string, payload []byte) error {
			var present bool
			switch strings.TrimSpace(string(payload)) {
			case wire.LegacyKeychainConnected:
				present = true
			case wire.LegacyKeychainDisconnected:
				present = false
			default:
				return cerrors.NewValidationError("unknown legacy status payload", nil)
			}
			// The first-generation topic carries no faculty id; it is only
			// unambiguous for a single-faculty deployment.
			faculty, err := store.Faculty().List(ctx, storage.FacultyFilter{})
			if err != nil {
				return err
			}
			if len(faculty) != 1 {
				return cerrors.NewValidationError("legacy status topic needs exactly one registered faculty", nil)
			}
			return presenceResult(topic, engine.HandleStatusUpdate(ctx, faculty[0].ID, present, "legacy"))
		},
	})

	rtr.Add(router.Rule{
		Name:    "legacy-messages",
		Pattern: wire.LegacyMessagesTopic,
		Handler: func(_ context.Context, _ string, payload []byte) error {
			text, err := models.SanitizeMessage(string(payload))
			if err != nil {
				return err
			}
			logger.Infow("legacy consultation message received", "message", text)
			bus.Publish(events.KindSystemNotification, wire.Notification{
				Kind:      "legacy_message",
				Detail:    text,
				Timestamp: time.Now().Format(time.RFC3339),
			})
			return nil
		},
	})
}

// presenceResult translates an update outcome into the router's
// error-or-nil contract; deferrals are normal operation, not faults.
func presenceResult(topic string, out presence.UpdateOutcome) error {
	switch out.Kind {
	case presence.OutcomeDeferred:
		logger.Infow("presence update deferred", "topic", topic, "reason", out.Reason)
		return nil
	case presence.OutcomeFailed:
		return out.Err
	default:
		return nil
	}
}
