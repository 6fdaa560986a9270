package wire

import "encoding/json"

// Presence labels carried in StatusUpdate payloads.
const (
	PresenceAvailable = "AVAILABLE"
	PresenceAway      = "AWAY"
)

// MAC status values carried in MacStatus payloads.
const (
	MacFacultyPresent = "faculty_present"
	MacFacultyAbsent  = "faculty_absent"
)

// Response kinds echoed by desk units.
const (
	ResponseAcknowledge = "ACKNOWLEDGE"
	ResponseBusy        = "BUSY"
)

// Notification kinds published on the system channel.
const (
	NotificationConsultationCancelled = "consultation_cancelled"
	NotificationServiceStatus         = "service_status"
)

// StatusUpdate is a desk-unit presence report
// (consultease/faculty/{id}/status).
type StatusUpdate struct {
	FacultyID     int64  `json:"faculty_id"`
	FacultyName   string `json:"faculty_name,omitempty"`
	Present       bool   `json:"present"`
	Status        string `json:"status,omitempty"`
	NTPSyncStatus string `json:"ntp_sync_status,omitempty"`
	// InGracePeriod is a pointer so an absent field is distinguishable
	// from a reported false.
	InGracePeriod *bool `json:"in_grace_period,omitempty"`
}

// MacStatus is a detailed beacon sighting report
// (consultease/faculty/{id}/mac_status).
type MacStatus struct {
	Status    string `json:"status"`
	MAC       string `json:"mac"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Response is a desk-unit answer to a consultation request
// (consultease/faculty/{id}/responses).
type Response struct {
	FacultyID       int64  `json:"faculty_id"`
	ResponseType    string `json:"response_type"`
	MessageID       string `json:"message_id"`
	OriginalMessage string `json:"original_message,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
}

// Heartbeat is a desk-unit liveness report
// (consultease/faculty/{id}/heartbeat).
type Heartbeat struct {
	FacultyID     int64  `json:"faculty_id"`
	Uptime        int64  `json:"uptime"`
	FreeHeap      int64  `json:"free_heap"`
	WiFiRSSI      int    `json:"wifi_rssi"`
	NTPSyncStatus string `json:"ntp_sync_status,omitempty"`
}

// ConsultationRequest is routed from the core to the target desk unit
// (consultease/faculty/{id}/requests).
type ConsultationRequest struct {
	MessageID      string `json:"message_id"`
	StudentName    string `json:"student_name"`
	CourseCode     string `json:"course_code"`
	RequestMessage string `json:"request_message"`
	Timestamp      string `json:"timestamp"`
}

// Notification is published on the system channel for operator consoles.
type Notification struct {
	Kind      string `json:"kind"`
	MessageID string `json:"message_id,omitempty"`
	FacultyID int64  `json:"faculty_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// PresenceLabel returns the wire label for a presence flag.
func PresenceLabel(present bool) string {
	if present {
		return PresenceAvailable
	}
	return PresenceAway
}

// Encode marshals a payload for publication.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals an inbound payload into v.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
