package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
)

type doctorRepository struct {
	db *sqlx.DB
}

type managerRepository struct {
	db *sqlx.DB
}

type settingsRepository struct {
	db *sqlx.DB
}

func NewDoctorRepository(db *sqlx.DB) repository.DoctorRepository {
	return &doctorRepository{db: db}
}

func NewManagerRepository(db *sqlx.DB) repository.ManagerRepository {
	return &managerRepository{db: db}
}

func NewSettingsRepository(db *sqlx.DB) repository.SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *doctorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	var d model.Doctor
	query := `SELECT id, name, phone, email FROM doctors WHERE id = $1`
	if err := getOne(ctx, r.db, &d, query, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *managerRepository) ListNotifiable(ctx context.Context, organizationID uuid.UUID) ([]*model.Manager, error) {
	query := `
		SELECT id, organization_id, name, phone, email, notifications_enabled
		FROM managers
		WHERE organization_id = $1 AND notifications_enabled = TRUE
		ORDER BY name ASC
	`
	var managers []*model.Manager
	if err := r.db.SelectContext(ctx, &managers, query, organizationID); err != nil {
		return nil, fmt.Errorf("failed to list managers: %w", err)
	}
	return managers, nil
}

func (r *settingsRepository) GetChannelSettings(ctx context.Context) (*model.ChannelSettings, error) {
	query := `
		SELECT api_base_url, auth_token, updated_at
		FROM channel_settings
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var s model.ChannelSettings
	if err := getOne(ctx, r.db, &s, query); err != nil {
		return nil, err
	}
	return &s, nil
}
