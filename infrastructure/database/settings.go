package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting retrieves a single system setting by key.
func (r *Repository) GetSetting(ctx context.Context, key string) (*SystemSetting, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidInput)
	}
	var s SystemSetting
	err := r.db.GetContext(ctx, &s, `SELECT * FROM system_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("setting", key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get setting: %v", ErrDatabaseError, err)
	}
	return &s, nil
}

// ListSettings returns every system setting, used to populate the cache.
func (r *Repository) ListSettings(ctx context.Context) ([]SystemSetting, error) {
	var settings []SystemSetting
	if err := r.db.SelectContext(ctx, &settings, `SELECT * FROM system_settings`); err != nil {
		return nil, fmt.Errorf("%w: list settings: %v", ErrDatabaseError, err)
	}
	return settings, nil
}

// UpsertSetting creates or updates a system setting.
func (r *Repository) UpsertSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidInput)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("%w: upsert setting: %v", ErrDatabaseError, err)
	}
	return nil
}

// ListFeatureFlags returns every feature flag, used to populate the cache.
func (r *Repository) ListFeatureFlags(ctx context.Context) ([]FeatureFlag, error) {
	var flags []FeatureFlag
	if err := r.db.SelectContext(ctx, &flags, `SELECT * FROM feature_flags`); err != nil {
		return nil, fmt.Errorf("%w: list feature flags: %v", ErrDatabaseError, err)
	}
	return flags, nil
}

// UpsertFeatureFlag creates or updates a feature flag.
func (r *Repository) UpsertFeatureFlag(ctx context.Context, flag *FeatureFlag) error {
	if flag == nil || flag.Key == "" {
		return fmt.Errorf("%w: flag key cannot be empty", ErrInvalidInput)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feature_flags (key, enabled, rollout, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET enabled = EXCLUDED.enabled, rollout = EXCLUDED.rollout, updated_at = now()`,
		flag.Key, flag.Enabled, flag.Rollout)
	if err != nil {
		return fmt.Errorf("%w: upsert feature flag: %v", ErrDatabaseError, err)
	}
	return nil
}
