package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Agent 语音助手配置，决定通话使用的号码、提示词与模型
type Agent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`

	UserID       uint   `json:"userId" gorm:"index"`
	Name         string `json:"name" gorm:"size:128"`
	FromNumber   string `json:"fromNumber" gorm:"size:64"`
	SystemPrompt string `json:"systemPrompt" gorm:"type:text"`
	LLMModel     string `json:"llmModel" gorm:"size:64"`
	Language     string `json:"language" gorm:"size:20"`
	Voice        string `json:"voice" gorm:"size:64"`
	Enabled      bool   `json:"enabled" gorm:"default:true"`
}

// TableName 指定表名
func (Agent) TableName() string {
	return "agents"
}

// GetAgentByID 根据ID获取助手；不存在时返回 (nil, nil)
func GetAgentByID(db *gorm.DB, id uint) (*Agent, error) {
	var agent Agent
	err := db.Where("id = ? AND enabled = ?", id, true).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}
