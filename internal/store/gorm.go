package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/voxen-labs/voxen/internal/models"
)

// GormStore 基于 GORM 的 Store 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 GORM 存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateCall(ctx context.Context, call *models.Call) error {
	return models.CreateCall(s.db.WithContext(ctx), call)
}

func (s *GormStore) FindCall(ctx context.Context, id string) (*models.Call, error) {
	return models.GetCallByID(s.db.WithContext(ctx), id)
}

func (s *GormStore) FindCallByExternalID(ctx context.Context, externalID string) (*models.Call, error) {
	return models.GetCallByExternalID(s.db.WithContext(ctx), externalID)
}

func (s *GormStore) SetCallExternalID(ctx context.Context, id, externalID string) error {
	return models.SetCallExternalID(s.db.WithContext(ctx), id, externalID)
}

func (s *GormStore) TransitionCallStatus(ctx context.Context, call *models.Call, from models.CallStatus) (bool, error) {
	return models.TransitionCall(s.db.WithContext(ctx), call, from)
}

func (s *GormStore) SetCallRecordingURL(ctx context.Context, id, url string) error {
	return models.SetCallRecordingURL(s.db.WithContext(ctx), id, url)
}

func (s *GormStore) SetCallSummary(ctx context.Context, id, summary string) error {
	return models.SetCallSummary(s.db.WithContext(ctx), id, summary)
}

func (s *GormStore) AppendTranscriptFragment(ctx context.Context, fragment *models.TranscriptFragment) error {
	return models.AppendTranscriptFragment(s.db.WithContext(ctx), fragment)
}

func (s *GormStore) FinalTranscript(ctx context.Context, callID string) (string, error) {
	return models.GetFinalTranscriptText(s.db.WithContext(ctx), callID)
}
