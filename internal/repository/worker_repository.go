package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"issue-service/internal/model"
)

type WorkerRepository struct {
	db *gorm.DB
}

func NewWorkerRepository(db *gorm.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

func (r *WorkerRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	var worker model.Worker
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		First(&worker, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &worker, nil
}

func (r *WorkerRepository) List(ctx context.Context) ([]model.Worker, error) {
	var workers []model.Worker
	if err := r.db.WithContext(ctx).
		Order("full_name ASC").
		Find(&workers).Error; err != nil {
		return nil, err
	}
	return workers, nil
}

// Upsert creates or replaces a roster entry keyed by the worker's user id.
func (r *WorkerRepository) Upsert(ctx context.Context, worker *model.Worker) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"full_name", "role", "departments", "is_active", "updated_at"}),
		}).
		Create(worker).Error
}
