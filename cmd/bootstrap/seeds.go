package bootstrap

import (
	"gorm.io/gorm"

	"github.com/voxen-labs/voxen/internal/models"
)

// SeedService writes demo data for non-production environments
type SeedService struct {
	db *gorm.DB
}

// SeedAll seeds everything that is missing, idempotent
func (s *SeedService) SeedAll() error {
	if err := s.seedAgent(); err != nil {
		return err
	}
	return s.seedCredential()
}

func (s *SeedService) seedAgent() error {
	var count int64
	if err := s.db.Model(&models.Agent{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.db.Create(&models.Agent{
		UserID:       1,
		Name:         "demo",
		FromNumber:   "+15550000000",
		SystemPrompt: "You are a helpful voice assistant.",
		LLMModel:     "gpt-4o-mini",
		Language:     "en-US",
		Enabled:      true,
	}).Error
}

func (s *SeedService) seedCredential() error {
	var count int64
	if err := s.db.Model(&models.UserCredential{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := models.CreateUserCredential(s.db, 1, "demo")
	return err
}
