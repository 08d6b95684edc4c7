package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'issue_status') THEN
			CREATE TYPE issue_status AS ENUM ('reported', 'assigned', 'accepted', 'in-progress', 'escalated', 'resolved', 'closed');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'issue_priority') THEN
			CREATE TYPE issue_priority AS ENUM ('low', 'medium', 'high', 'urgent');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'worker_role') THEN
			CREATE TYPE worker_role AS ENUM ('field-staff', 'supervisor', 'commissioner');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS workers (
		id UUID PRIMARY KEY,
		full_name VARCHAR(255),
		role worker_role NOT NULL,
		departments JSONB NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS issues (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		report_id UUID NOT NULL,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL,
		category VARCHAR(64) NOT NULL,
		priority issue_priority NOT NULL DEFAULT 'medium',
		status issue_status NOT NULL DEFAULT 'reported',
		classified_by VARCHAR(16) NOT NULL,
		location_name VARCHAR(200),
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		reported_by UUID NOT NULL,
		assigned_to UUID REFERENCES workers(id) ON DELETE SET NULL,
		accepted_by UUID REFERENCES workers(id) ON DELETE SET NULL,
		resolution_photo_url TEXT,
		resolution_latitude DOUBLE PRECISION,
		resolution_longitude DOUBLE PRECISION,
		resolved_by UUID,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT chk_issues_coordinates CHECK (
			(latitude IS NULL AND longitude IS NULL) OR
			(latitude BETWEEN -90 AND 90 AND longitude BETWEEN -180 AND 180)
		),
		CONSTRAINT chk_issues_accepted_by CHECK (
			status NOT IN ('accepted', 'in-progress', 'escalated') OR accepted_by IS NOT NULL
		)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_issues_report_id ON issues (report_id);`,
	`CREATE INDEX IF NOT EXISTS idx_issues_status ON issues (status);`,
	`CREATE INDEX IF NOT EXISTS idx_issues_category ON issues (category);`,
	`CREATE INDEX IF NOT EXISTS idx_issues_reported_by ON issues (reported_by);`,
	`CREATE INDEX IF NOT EXISTS idx_issues_accepted_by ON issues (accepted_by);`,
	`CREATE INDEX IF NOT EXISTS idx_issues_lat_lng ON issues (latitude, longitude);`,
	`CREATE INDEX IF NOT EXISTS idx_issues_created_at ON issues (created_at);`,
	`CREATE TABLE IF NOT EXISTS issue_images (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		issue_id UUID NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		caption TEXT,
		position INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_issue_images_issue_id ON issue_images (issue_id);`,
	`CREATE TABLE IF NOT EXISTS issue_upvotes (
		issue_id UUID NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (issue_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS issue_comments (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		issue_id UUID NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		author_id UUID NOT NULL,
		author_role VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_issue_comments_issue_id ON issue_comments (issue_id);`,
	`CREATE TABLE IF NOT EXISTS issue_status_log (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		issue_id UUID NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		old_status issue_status,
		new_status issue_status NOT NULL,
		note TEXT,
		changed_by UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_issue_status_log_issue_id ON issue_status_log (issue_id);`,
	`CREATE OR REPLACE FUNCTION set_row_updated_at()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_issues_updated_at') THEN
			CREATE TRIGGER trg_issues_updated_at
				BEFORE UPDATE ON issues
				FOR EACH ROW
				EXECUTE PROCEDURE set_row_updated_at();
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_workers_updated_at') THEN
			CREATE TRIGGER trg_workers_updated_at
				BEFORE UPDATE ON workers
				FOR EACH ROW
				EXECUTE PROCEDURE set_row_updated_at();
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
