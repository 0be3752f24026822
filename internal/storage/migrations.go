package storage

import (
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
)

// normalizeLandingPageOwnerEmails lowercases owner emails written before
// NewLandingPage normalized them, so List filters match every row.
func normalizeLandingPageOwnerEmails(database *gorm.DB) error {
	return database.Model(&model.LandingPage{}).
		Where("owner_email <> LOWER(TRIM(owner_email))").
		Update("owner_email", gorm.Expr("LOWER(TRIM(owner_email))")).Error
}
