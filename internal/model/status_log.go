package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IssueStatusLog struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	IssueID   uuid.UUID    `gorm:"type:uuid;not null" json:"issue_id"`
	OldStatus *IssueStatus `gorm:"type:issue_status" json:"old_status"`
	NewStatus IssueStatus  `gorm:"type:issue_status;not null" json:"new_status"`
	Note      string       `gorm:"type:text" json:"note"`
	ChangedBy *uuid.UUID   `gorm:"type:uuid" json:"changed_by"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func (IssueStatusLog) TableName() string {
	return "issue_status_log"
}

func (l *IssueStatusLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
