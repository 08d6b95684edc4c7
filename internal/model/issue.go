package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"issue-service/internal/geo"
)

type IssueStatus string

const (
	IssueStatusReported   IssueStatus = "reported"
	IssueStatusAssigned   IssueStatus = "assigned"
	IssueStatusAccepted   IssueStatus = "accepted"
	IssueStatusInProgress IssueStatus = "in-progress"
	IssueStatusEscalated  IssueStatus = "escalated"
	IssueStatusResolved   IssueStatus = "resolved"
	IssueStatusClosed     IssueStatus = "closed"
)

func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusReported, IssueStatusAssigned, IssueStatusAccepted, IssueStatusInProgress,
		IssueStatusEscalated, IssueStatusResolved, IssueStatusClosed:
		return true
	}
	return false
}

// HoldsAcceptance reports whether an issue in this status keeps its accepting worker.
func (s IssueStatus) HoldsAcceptance() bool {
	return s == IssueStatusAccepted || s == IssueStatusInProgress || s == IssueStatusEscalated
}

func (s IssueStatus) HasResolution() bool {
	return s == IssueStatusResolved || s == IssueStatusClosed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

func ParsePriority(raw string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := priorityRank[p]
	return p, ok
}

// Max returns the more severe of p and other.
func (p Priority) Max(other Priority) Priority {
	if priorityRank[other] > priorityRank[p] {
		return other
	}
	return p
}

type ClassificationSource string

const (
	ClassifiedByGateway ClassificationSource = "CLASSIFIER"
	ClassifiedByDefault ClassificationSource = "DEFAULT"
)

type Issue struct {
	ID           uuid.UUID            `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	ReportID     uuid.UUID            `gorm:"type:uuid;not null" json:"report_id"`
	Title        string               `gorm:"type:varchar(200);not null" json:"title"`
	Description  string               `gorm:"type:text;not null" json:"description"`
	Category     Category             `gorm:"type:varchar(64);not null" json:"category"`
	Priority     Priority             `gorm:"type:issue_priority;not null;default:'medium'" json:"priority"`
	Status       IssueStatus          `gorm:"type:issue_status;not null;default:'reported'" json:"status"`
	ClassifiedBy ClassificationSource `gorm:"type:varchar(16);not null" json:"classified_by"`
	LocationName string               `gorm:"type:varchar(200)" json:"location_name"`
	Latitude     *float64             `json:"latitude"`
	Longitude    *float64             `json:"longitude"`
	ReportedBy   uuid.UUID            `gorm:"type:uuid;not null" json:"reported_by"`
	AssignedTo   *uuid.UUID           `gorm:"type:uuid" json:"assigned_to"`
	AcceptedBy   *uuid.UUID           `gorm:"type:uuid" json:"accepted_by"`

	ResolutionPhotoURL  *string    `gorm:"column:resolution_photo_url" json:"-"`
	ResolutionLatitude  *float64   `gorm:"column:resolution_latitude" json:"-"`
	ResolutionLongitude *float64   `gorm:"column:resolution_longitude" json:"-"`
	ResolvedBy          *uuid.UUID `gorm:"type:uuid" json:"-"`
	ResolvedAt          *time.Time `json:"resolved_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Images     []IssueImage `gorm:"foreignKey:IssueID" json:"images"`
	Resolution *Resolution  `gorm:"-" json:"resolution"`
}

func (Issue) TableName() string {
	return "issues"
}

type Resolution struct {
	PhotoURL    *string   `json:"photo_url"`
	Coordinates geo.Point `json:"coordinates"`
	ResolvedBy  uuid.UUID `json:"resolved_by"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

func (i *Issue) AfterFind(tx *gorm.DB) error {
	i.Resolution = i.buildResolution()
	return nil
}

func (i *Issue) buildResolution() *Resolution {
	if !i.Status.HasResolution() || i.ResolvedAt == nil || i.ResolutionLatitude == nil || i.ResolutionLongitude == nil {
		return nil
	}
	res := &Resolution{
		PhotoURL:    i.ResolutionPhotoURL,
		Coordinates: geo.Point{Lat: *i.ResolutionLatitude, Lng: *i.ResolutionLongitude},
		ResolvedAt:  *i.ResolvedAt,
	}
	if i.ResolvedBy != nil {
		res.ResolvedBy = *i.ResolvedBy
	}
	return res
}

// Coordinates returns the reported location, or false when the issue has no usable pair.
func (i *Issue) Coordinates() (geo.Point, bool) {
	if i.Latitude == nil || i.Longitude == nil {
		return geo.Point{}, false
	}
	p := geo.Point{Lat: *i.Latitude, Lng: *i.Longitude}
	if !p.Valid() {
		return geo.Point{}, false
	}
	return p, true
}

type IssueImage struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	IssueID   uuid.UUID `gorm:"type:uuid;not null" json:"issue_id"`
	URL       string    `gorm:"type:text;not null" json:"url"`
	Caption   string    `gorm:"type:text" json:"caption"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (IssueImage) TableName() string {
	return "issue_images"
}

type IssueUpvote struct {
	IssueID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"issue_id"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (IssueUpvote) TableName() string {
	return "issue_upvotes"
}

type IssueComment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	IssueID    uuid.UUID `gorm:"type:uuid;not null" json:"issue_id"`
	AuthorID   uuid.UUID `gorm:"type:uuid;not null" json:"author_id"`
	AuthorRole UserRole  `gorm:"type:varchar(32);not null" json:"author_role"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (IssueComment) TableName() string {
	return "issue_comments"
}
