// Package wire defines the MQTT wire protocol spoken between the central
// core, the desk units, and operator consoles: topic grammar on one side,
// JSON payload types on the other.
//
// All payloads are UTF-8 JSON except the legacy professor/status topic,
// which carries bare keychain strings from first-generation desk firmware.
package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/consultease/consultease/pkg/errors"
)

// Topic families. Desk units publish under consultease/faculty/{id}/...;
// the core publishes requests back to the same tree and notifications to
// the system channel.
const (
	// SystemNotificationsTopic fans out operator-facing notifications.
	SystemNotificationsTopic = "consultease/system/notifications"

	// LegacyStatusTopic carries bare keychain strings from old firmware.
	LegacyStatusTopic = "professor/status"
	// LegacyMessagesTopic carries consultation text from old firmware.
	LegacyMessagesTopic = "professor/messages"
)

// Legacy payload strings accepted on LegacyStatusTopic.
const (
	LegacyKeychainConnected    = "keychain_connected"
	LegacyKeychainDisconnected = "keychain_disconnected"
)

// Subscription patterns with single-level wildcards in the faculty id slot.
const (
	FacultyStatusPattern    = "consultease/faculty/+/status"
	FacultyMacStatusPattern = "consultease/faculty/+/mac_status"
	FacultyResponsesPattern = "consultease/faculty/+/responses"
	FacultyHeartbeatPattern = "consultease/faculty/+/heartbeat"
)

// FacultyStatusTopic returns the presence update topic for a faculty member.
func FacultyStatusTopic(facultyID int64) string {
	return facultyTopic(facultyID, "status")
}

// FacultyMacStatusTopic returns the detailed MAC status topic.
func FacultyMacStatusTopic(facultyID int64) string {
	return facultyTopic(facultyID, "mac_status")
}

// FacultyResponsesTopic returns the consultation response topic.
func FacultyResponsesTopic(facultyID int64) string {
	return facultyTopic(facultyID, "responses")
}

// FacultyHeartbeatTopic returns the desk-unit liveness topic.
func FacultyHeartbeatTopic(facultyID int64) string {
	return facultyTopic(facultyID, "heartbeat")
}

// FacultyRequestsTopic returns the topic consultation requests are routed to.
func FacultyRequestsTopic(facultyID int64) string {
	return facultyTopic(facultyID, "requests")
}

func facultyTopic(facultyID int64, leaf string) string {
	return fmt.Sprintf("consultease/faculty/%d/%s", facultyID, leaf)
}

// ParseFacultyID extracts the faculty id segment from a
// consultease/faculty/{id}/... topic.
func ParseFacultyID(topic string) (int64, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "consultease" || parts[1] != "faculty" {
		return 0, errors.NewValidationError("topic is not a faculty topic: "+topic, nil)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError("faculty id segment is not a positive integer: "+topic, nil)
	}
	return id, nil
}
