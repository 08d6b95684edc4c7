package model

import "github.com/google/uuid"

type UserRole string

const (
	UserRoleCitizen UserRole = "CITIZEN"
	UserRoleWorker  UserRole = "WORKER"
	UserRoleAdmin   UserRole = "ADMIN"
)

type Principal struct {
	UserID uuid.UUID
	Role   UserRole
}

func (p Principal) IsCitizen() bool {
	return p.Role == UserRoleCitizen
}

func (p Principal) IsWorker() bool {
	return p.Role == UserRoleWorker
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}
