package models

import (
	"errors"
	"time"

	"github.com/voxen-labs/voxen/pkg/utils"
	"gorm.io/gorm"
)

// UserCredential API 凭证，REST 与信令通道握手共用
type UserCredential struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`

	UserID    uint   `json:"userId" gorm:"index;not null"`
	Name      string `json:"name" gorm:"size:128"`
	ApiKey    string `json:"apiKey" gorm:"size:64;uniqueIndex"`
	ApiSecret string `json:"-" gorm:"size:128"`
	Enabled   bool   `json:"enabled" gorm:"default:true"`
}

// TableName 指定表名
func (UserCredential) TableName() string {
	return "user_credentials"
}

// CreateUserCredential 创建用户凭证，自动生成 key/secret
func CreateUserCredential(db *gorm.DB, userID uint, name string) (*UserCredential, error) {
	cred := &UserCredential{
		UserID:    userID,
		Name:      name,
		ApiKey:    utils.RandText(32),
		ApiSecret: utils.RandText(64),
		Enabled:   true,
	}
	if err := db.Create(cred).Error; err != nil {
		return nil, err
	}
	return cred, nil
}

// GetUserCredentialByApiSecretAndApiKey 根据 key/secret 查询凭证；
// 不存在时返回 (nil, nil)
func GetUserCredentialByApiSecretAndApiKey(db *gorm.DB, apiKey, apiSecret string) (*UserCredential, error) {
	var credential UserCredential
	result := db.Where("api_key = ? AND api_secret = ? AND enabled = ?", apiKey, apiSecret, true).First(&credential)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &credential, nil
}
