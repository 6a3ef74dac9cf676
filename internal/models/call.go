package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// CallStatus 通话状态
type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"   // 已准入，等待提供商接受
	CallStatusRinging    CallStatus = "ringing"     // 响铃中
	CallStatusInProgress CallStatus = "in_progress" // 通话中
	CallStatusCompleted  CallStatus = "completed"   // 正常结束
	CallStatusFailed     CallStatus = "failed"      // 下发失败或提供商侧错误
	CallStatusNoAnswer   CallStatus = "no_answer"   // 无人接听
	CallStatusBusy       CallStatus = "busy"        // 占线
	CallStatusCanceled   CallStatus = "canceled"    // 接通前取消
)

// IsTerminal 判断状态是否为终态
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	}
	return false
}

// forwardTransitions 每个非终态允许的前向迁移
var forwardTransitions = map[CallStatus][]CallStatus{
	CallStatusInitiated: {
		CallStatusRinging,
		CallStatusInProgress,
		CallStatusFailed,
		CallStatusNoAnswer,
		CallStatusBusy,
		CallStatusCanceled,
	},
	CallStatusRinging: {
		CallStatusInProgress,
		CallStatusCompleted,
		CallStatusFailed,
		CallStatusNoAnswer,
		CallStatusBusy,
		CallStatusCanceled,
	},
	CallStatusInProgress: {
		CallStatusCompleted,
		CallStatusFailed,
	},
}

// CanTransitionTo 判断 from -> to 是否为合法前向迁移。
// 终态之后不允许任何迁移。
func (s CallStatus) CanTransitionTo(to CallStatus) bool {
	for _, next := range forwardTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CallDirection 通话方向
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"  // 呼入
	CallDirectionOutbound CallDirection = "outbound" // 呼出
)

// Call 通话记录。状态只能由生命周期状态机修改。
type Call struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`

	// ExternalID 提供商回执的呼叫引用，至多设置一次，设置后不再变化
	ExternalID *string `json:"externalId,omitempty" gorm:"size:128;uniqueIndex"`

	Direction  CallDirection `json:"direction" gorm:"size:20;index"`
	FromNumber string        `json:"fromNumber" gorm:"size:64"`
	ToNumber   string        `json:"toNumber" gorm:"size:64"`

	UserID  uint `json:"userId" gorm:"index"`
	AgentID uint `json:"agentId" gorm:"index"`

	Status CallStatus `json:"status" gorm:"size:20;index"`

	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	DurationSec int        `json:"durationSec" gorm:"default:0"`

	RecordingURL    string `json:"recordingUrl,omitempty" gorm:"size:500"`
	StreamSessionID string `json:"streamSessionId,omitempty" gorm:"size:128"`
	Summary         string `json:"summary,omitempty" gorm:"type:text"`

	ErrorMessage string `json:"errorMessage,omitempty" gorm:"size:500"`
}

// TableName 指定表名
func (Call) TableName() string {
	return "calls"
}

// CreateCall 创建通话记录
func CreateCall(db *gorm.DB, call *Call) error {
	return db.Create(call).Error
}

// GetCallByID 根据ID获取通话记录
func GetCallByID(db *gorm.DB, id string) (*Call, error) {
	var call Call
	err := db.Where("id = ?", id).First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &call, nil
}

// GetCallByExternalID 根据提供商呼叫引用获取通话记录
func GetCallByExternalID(db *gorm.DB, externalID string) (*Call, error) {
	var call Call
	err := db.Where("external_id = ?", externalID).First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &call, nil
}

// SetCallExternalID 设置提供商呼叫引用，仅当尚未设置时生效
func SetCallExternalID(db *gorm.DB, id, externalID string) error {
	return db.Model(&Call{}).
		Where("id = ? AND external_id IS NULL", id).
		Update("external_id", externalID).Error
}

// TransitionCall 条件化持久化一次状态迁移：只有数据库中的状态仍是 from
// 时才写入。返回 false 表示状态已被并发写入更新，调用方需要重读后重新判定。
func TransitionCall(db *gorm.DB, call *Call, from CallStatus) (bool, error) {
	result := db.Model(&Call{}).
		Where("id = ? AND status = ?", call.ID, from).
		Select("status", "answered_at", "ended_at", "duration_sec", "recording_url", "error_message").
		Updates(call)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetCallRecordingURL 补写录音地址。单列更新，不触碰状态字段
func SetCallRecordingURL(db *gorm.DB, id, url string) error {
	return db.Model(&Call{}).Where("id = ?", id).Update("recording_url", url).Error
}

// SetCallSummary 写入通话摘要。单列更新，不触碰状态字段
func SetCallSummary(db *gorm.DB, id, summary string) error {
	return db.Model(&Call{}).Where("id = ?", id).Update("summary", summary).Error
}

// GetCallsByUserID 按用户获取通话记录列表
func GetCallsByUserID(db *gorm.DB, userID uint, limit int) ([]Call, error) {
	var calls []Call
	query := db.Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&calls).Error
	return calls, err
}

// CountActiveCalls 统计用户未到终态的通话数
func CountActiveCalls(db *gorm.DB, userID uint) (int64, error) {
	var count int64
	err := db.Model(&Call{}).
		Where("user_id = ? AND status IN ?", userID, []CallStatus{
			CallStatusInitiated, CallStatusRinging, CallStatusInProgress,
		}).
		Count(&count).Error
	return count, err
}
