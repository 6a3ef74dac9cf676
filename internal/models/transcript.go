package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TranscriptFragment 一段转写结果。final 片段写入后不可变；
// 同一 (call, offset, channel) 上的 interim 片段可被后续片段覆盖。
type TranscriptFragment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`

	CallID     string  `json:"callId" gorm:"size:36;index;not null;uniqueIndex:idx_call_offset_channel"`
	OffsetSec  float64 `json:"offsetSec" gorm:"uniqueIndex:idx_call_offset_channel"`
	Channel    int     `json:"channel" gorm:"uniqueIndex:idx_call_offset_channel"`
	Text       string  `json:"text" gorm:"type:text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// TableName 指定表名
func (TranscriptFragment) TableName() string {
	return "transcript_fragments"
}

// AppendTranscriptFragment 追加转写片段。
// 同一偏移上已有 interim 片段时按 (call, offset, channel) 覆盖；
// 已标记 final 的片段不会被覆盖。
func AppendTranscriptFragment(db *gorm.DB, fragment *TranscriptFragment) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "call_id"}, {Name: "offset_sec"}, {Name: "channel"},
		},
		Where: clause.Where{
			Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: "transcript_fragments", Name: "final"}, Value: false},
			},
		},
		DoUpdates: clause.AssignmentColumns([]string{"text", "confidence", "final"}),
	}).Create(fragment).Error
}

// GetTranscriptFragments 按偏移顺序获取一次通话的全部片段
func GetTranscriptFragments(db *gorm.DB, callID string) ([]TranscriptFragment, error) {
	var fragments []TranscriptFragment
	err := db.Where("call_id = ?", callID).
		Order("offset_sec ASC, channel ASC").
		Find(&fragments).Error
	return fragments, err
}

// GetFinalTranscriptText 拼接一次通话的全部 final 片段文本
func GetFinalTranscriptText(db *gorm.DB, callID string) (string, error) {
	var fragments []TranscriptFragment
	err := db.Where("call_id = ? AND final = ?", callID, true).
		Order("offset_sec ASC").
		Find(&fragments).Error
	if err != nil {
		return "", err
	}
	text := ""
	for i, f := range fragments {
		if i > 0 {
			text += " "
		}
		text += f.Text
	}
	return text, nil
}
