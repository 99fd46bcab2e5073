package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/tshla-medical/phicore/internal/domain"
)

type Action string

const (
	ActionLogin              Action = "LOGIN"
	ActionLogout             Action = "LOGOUT"
	ActionLoginFailed        Action = "LOGIN_FAILED"
	ActionSessionTimeout     Action = "SESSION_TIMEOUT"
	ActionViewPatient        Action = "VIEW_PATIENT"
	ActionViewTranscript     Action = "VIEW_TRANSCRIPT"
	ActionViewResults        Action = "VIEW_RESULTS"
	ActionCreateNote         Action = "CREATE_NOTE"
	ActionUpdateNote         Action = "UPDATE_NOTE"
	ActionDeleteNote         Action = "DELETE_NOTE"
	ActionSendEmail          Action = "SEND_EMAIL"
	ActionExportData         Action = "EXPORT_DATA"
	ActionPrintData          Action = "PRINT_DATA"
	ActionSubmitPA           Action = "SUBMIT_PA"
	ActionViewPA             Action = "VIEW_PA"
	ActionAPICall            Action = "API_CALL"
	ActionEncryptionFailure  Action = "ENCRYPTION_FAILURE"
	ActionUnauthorizedAccess Action = "UNAUTHORIZED_ACCESS"
)

type ResourceType string

const (
	ResourcePatient       ResourceType = "PATIENT"
	ResourceTranscript    ResourceType = "TRANSCRIPT"
	ResourceNote          ResourceType = "NOTE"
	ResourceTemplate      ResourceType = "TEMPLATE"
	ResourcePriorAuth     ResourceType = "PRIOR_AUTH"
	ResourcePumpSelection ResourceType = "PUMP_SELECTION"
)

// criticalActions flush immediately instead of waiting for the next tick.
var criticalActions = map[Action]struct{}{
	ActionLoginFailed:        {},
	ActionUnauthorizedAccess: {},
	ActionDeleteNote:         {},
	ActionExportData:         {},
	ActionEncryptionFailure:  {},
}

func (a Action) IsCritical() bool {
	_, ok := criticalActions[a]
	return ok
}

// Entry is one immutable audit record. PatientIDHash is the only form in
// which a patient identifier may appear here: the raw identifier is hashed
// before an Entry is ever constructed, and no code path may undo that.
type Entry struct {
	ID            uuid.UUID         `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	UserID        string            `json:"user_id"`
	UserRole      domain.Role       `json:"user_role,omitempty"`
	Action        Action            `json:"action"`
	ResourceType  ResourceType      `json:"resource_type"`
	ResourceID    string            `json:"resource_id"`
	PatientIDHash string            `json:"patient_id_hash,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Success       bool              `json:"success"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}
