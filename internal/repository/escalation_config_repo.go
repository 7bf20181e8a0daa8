package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tgo/engage/internal/model"
)

type EscalationConfigRepository struct {
	DB *gorm.DB
}

func NewEscalationConfigRepository(db *gorm.DB) *EscalationConfigRepository {
	return &EscalationConfigRepository{DB: db}
}

func (r *EscalationConfigRepository) FindByOrganization(ctx context.Context, orgID uuid.UUID) (*model.EscalationConfig, error) {
	var cfg model.EscalationConfig
	err := r.DB.WithContext(ctx).Where("organization_id = ?", orgID).First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Upsert stores the organization's config, replacing any existing row, and
// reloads cfg so its id and timestamps match the stored row.
func (r *EscalationConfigRepository) Upsert(ctx context.Context, cfg *model.EscalationConfig) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organization_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled", "escalation_timeout_minutes", "max_failed_responses",
				"escalation_keywords", "negative_sentiment_keywords", "negative_sentiment_threshold",
				"auto_assign_agent", "notify_agent", "updated_at",
			}),
		}).Create(cfg).Error
		if err != nil {
			return err
		}
		var stored model.EscalationConfig
		if err := tx.Where("organization_id = ?", cfg.OrganizationID).First(&stored).Error; err != nil {
			return err
		}
		*cfg = stored
		return nil
	})
}

// FindWithTimeout lists enabled configs that have an idle timeout set.
func (r *EscalationConfigRepository) FindWithTimeout(ctx context.Context) ([]model.EscalationConfig, error) {
	var configs []model.EscalationConfig
	err := r.DB.WithContext(ctx).
		Where("enabled = ? AND escalation_timeout_minutes > 0", true).
		Find(&configs).Error
	return configs, err
}
