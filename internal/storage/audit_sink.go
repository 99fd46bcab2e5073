package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tshla-medical/phicore/internal/domain"
	"github.com/tshla-medical/phicore/internal/domain/audit"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessLog is one audit entry at rest, used when no external audit sink is
// configured. Delivery is at-least-once, so the primary key is the entry ID
// and replays are dropped on conflict.
type AccessLog struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey"`
	Timestamp     time.Time    `gorm:"column:timestamp;not null;index"`
	UserID        string       `gorm:"column:user_id;type:varchar(64);index"`
	UserRole      domain.Role  `gorm:"column:user_role;type:varchar(30)"`
	Action        audit.Action `gorm:"column:action;type:varchar(40);not null;index"`
	ResourceType  string       `gorm:"column:resource_type;type:varchar(40)"`
	ResourceID    string       `gorm:"column:resource_id;type:varchar(255)"`
	PatientIDHash string       `gorm:"column:patient_id_hash;type:varchar(64);index"`
	Details       string       `gorm:"column:details;type:text"`
	IPAddress     string       `gorm:"column:ip_address;type:varchar(45)"`
	UserAgent     string       `gorm:"column:user_agent;type:varchar(255)"`
	Success       bool         `gorm:"column:success;not null"`
	ErrorMessage  string       `gorm:"column:error_message;type:text"`
}

func (AccessLog) TableName() string {
	return "audit.access_logs"
}

// GormSink persists audit batches to the local access_logs table.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Send(ctx context.Context, entries []*audit.Entry) error {
	records := make([]AccessLog, 0, len(entries))
	for _, e := range entries {
		var details string
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("encoding audit details: %w", err)
			}
			details = string(raw)
		}
		records = append(records, AccessLog{
			ID:            e.ID,
			Timestamp:     e.Timestamp,
			UserID:        e.UserID,
			UserRole:      e.UserRole,
			Action:        e.Action,
			ResourceType:  string(e.ResourceType),
			ResourceID:    e.ResourceID,
			PatientIDHash: e.PatientIDHash,
			Details:       details,
			IPAddress:     e.IPAddress,
			UserAgent:     e.UserAgent,
			Success:       e.Success,
			ErrorMessage:  e.ErrorMessage,
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records).Error
	if err != nil {
		return fmt.Errorf("persisting audit batch: %w", err)
	}
	return nil
}
