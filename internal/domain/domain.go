package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RolePhysician Role = "physician"
	RoleNurse     Role = "nurse"
	RoleStaff     Role = "staff"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RolePhysician, RoleNurse, RoleStaff:
		return true
	}
	return false
}

type Permission string

const (
	PermReadPatientData      Permission = "read:patient_data"
	PermWritePatientData     Permission = "write:patient_data"
	PermCreatePrescriptions  Permission = "create:prescriptions"
	PermViewPrescriptions    Permission = "view:prescriptions"
	PermSubmitPriorAuth      Permission = "submit:prior_auth"
	PermReadAll              Permission = "read:all"
	PermWriteAll             Permission = "write:all"
	PermManageUsers          Permission = "manage:users"
	PermViewAuditLogs        Permission = "view:audit_logs"
	PermScheduleAppointments Permission = "schedule:appointments"
)

// DefaultPermissions returns the fixed permission set granted to a role at
// session creation. Admin additionally short-circuits every permission check,
// so its explicit set only matters for token introspection.
func DefaultPermissions(role Role) []Permission {
	switch role {
	case RolePhysician:
		return []Permission{PermReadPatientData, PermWritePatientData, PermCreatePrescriptions, PermSubmitPriorAuth}
	case RoleNurse:
		return []Permission{PermReadPatientData, PermWritePatientData, PermViewPrescriptions}
	case RoleAdmin:
		return []Permission{PermReadAll, PermWriteAll, PermManageUsers, PermViewAuditLogs}
	case RoleStaff:
		return []Permission{PermReadPatientData, PermScheduleAppointments}
	}
	return nil
}

type User struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	Email        string `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;type:varchar(255);not null"`
	Role         Role   `gorm:"column:role;type:varchar(30);not null;index"`

	IsActive              bool       `gorm:"column:is_active;default:true;index"`
	FailedLoginCount      int        `gorm:"column:failed_login_count;default:0"`
	LockedUntil           *time.Time `gorm:"column:locked_until"`
	LastLoginAt           *time.Time `gorm:"column:last_login_at"`
	PasswordChangedAt     time.Time  `gorm:"column:password_changed_at"`
	RequirePasswordChange bool       `gorm:"column:require_password_change;default:false"`

	MFAEnabled bool   `gorm:"column:mfa_enabled;default:false"`
	MFASecret  string `gorm:"column:mfa_secret;type:varchar(100)"`
}

func (User) TableName() string {
	return "auth.users"
}

// IsLocked returns true if the account is temporarily locked due to failed logins.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Session is the payload that round-trips through the signed session token.
// There is no server-side session table: the token is the sole source of
// truth, which also means a still-valid sibling token issued to another
// device survives a logout until its own inactivity window closes.
type Session struct {
	SessionID    string       `json:"session_id"`
	UserID       uuid.UUID    `json:"user_id"`
	Role         Role         `json:"role"`
	Permissions  []Permission `json:"permissions"`
	LoginTime    time.Time    `json:"login_time"`
	LastActivity time.Time    `json:"last_activity"`
	IPAddress    string       `json:"ip_address,omitempty"`
	MFAVerified  bool         `json:"mfa_verified"`
}

// HasPermission reports whether the session grants perm. Admin short-circuits
// to true. A nil session never has any permission; absence is not an error.
func (s *Session) HasPermission(perm Permission) bool {
	if s == nil {
		return false
	}
	if s.Role == RoleAdmin {
		return true
	}
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
