package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

type WorkerRole string

const (
	WorkerRoleFieldStaff   WorkerRole = "field-staff"
	WorkerRoleSupervisor   WorkerRole = "supervisor"
	WorkerRoleCommissioner WorkerRole = "commissioner"
)

// Departments is stored as a JSON array; "All" matches every category.
type Departments []string

func (d Departments) Value() (driver.Value, error) {
	if d == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(d))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (d *Departments) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("departments: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*d = out
	return nil
}

// Categories resolves roster entries through ParseCategory. all is true when
// an entry is the All sentinel; unknown entries are dropped.
func (d Departments) Categories() (categories []Category, all bool) {
	categories = make([]Category, 0, len(d))
	for _, dep := range d {
		if strings.EqualFold(strings.TrimSpace(dep), AllDepartments) {
			return nil, true
		}
		if c, ok := ParseCategory(dep); ok {
			categories = append(categories, c)
		}
	}
	return categories, false
}

func (d Departments) Includes(category Category) bool {
	categories, all := d.Categories()
	if all {
		return true
	}
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

// Worker is the roster entry for a field worker. ID is the worker's user id.
type Worker struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	FullName    string      `gorm:"type:varchar(255)" json:"full_name"`
	Role        WorkerRole  `gorm:"type:worker_role;not null" json:"role"`
	Departments Departments `gorm:"type:jsonb;not null;default:'[]'" json:"departments"`
	IsActive    bool        `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Worker) TableName() string {
	return "workers"
}

func (w Worker) IsCommissioner() bool {
	return w.Role == WorkerRoleCommissioner
}
