package store

import (
	"context"

	"github.com/voxen-labs/voxen/internal/models"
)

// Store 核心对外的持久化窄接口。
// 表结构由存储方负责，核心只通过这组操作读写通话与转写记录。
type Store interface {
	// CreateCall 创建通话记录
	CreateCall(ctx context.Context, call *models.Call) error

	// FindCall 根据内部ID查询；不存在时返回 (nil, nil)
	FindCall(ctx context.Context, id string) (*models.Call, error)

	// FindCallByExternalID 根据提供商呼叫引用查询；不存在时返回 (nil, nil)
	FindCallByExternalID(ctx context.Context, externalID string) (*models.Call, error)

	// SetCallExternalID 设置提供商呼叫引用，只在尚未设置时生效
	SetCallExternalID(ctx context.Context, id, externalID string) error

	// TransitionCallStatus 条件化持久化状态迁移：数据库中的状态仍是 from
	// 时才写入并返回 true，否则返回 false，调用方重读后重新判定
	TransitionCallStatus(ctx context.Context, call *models.Call, from models.CallStatus) (bool, error)

	// SetCallRecordingURL 补写录音地址，不触碰状态字段
	SetCallRecordingURL(ctx context.Context, id, url string) error

	// SetCallSummary 写入通话摘要，不触碰状态字段
	SetCallSummary(ctx context.Context, id, summary string) error

	// AppendTranscriptFragment 追加转写片段（interim 按偏移覆盖）
	AppendTranscriptFragment(ctx context.Context, fragment *models.TranscriptFragment) error

	// FinalTranscript 返回一次通话的 final 片段全文
	FinalTranscript(ctx context.Context, callID string) (string, error)
}
