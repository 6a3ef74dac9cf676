package lifecycle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/internal/store"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"github.com/voxen-labs/voxen/pkg/events"
	"github.com/voxen-labs/voxen/pkg/executor"
	"github.com/voxen-labs/voxen/pkg/governor"
	"github.com/voxen-labs/voxen/pkg/telephony"
)

// InitiateParams 发起外呼的参数
type InitiateParams struct {
	UserID     uint
	AgentID    uint
	FromNumber string
	ToNumber   string
}

// StatusUpdate 提供商侧的状态事件。
// Reason 只在失败类状态上有意义。
type StatusUpdate struct {
	Status       models.CallStatus
	DurationSec  int
	RecordingURL string
	Reason       string
}

// Summarizer 通话后摘要能力，终态为 completed 时异步触发
type Summarizer interface {
	Summarize(ctx context.Context, callID, transcript string) (string, error)
}

// Machine 通话生命周期状态机。
// 所有状态写入都经过这里：非法或重复的迁移按幂等空操作处理，
// 终态一经写入不再回退。
type Machine struct {
	store    store.Store
	governor *governor.Governor
	exec     *executor.Executor
	provider telephony.Provider
	bus      *events.Bus
	logger   *zap.Logger

	summarizer Summarizer
	policy     executor.Policy

	mu     sync.Mutex
	tokens map[string]*governor.Token
}

// NewMachine 创建生命周期状态机
func NewMachine(
	st store.Store,
	gov *governor.Governor,
	exec *executor.Executor,
	provider telephony.Provider,
	bus *events.Bus,
	logger *zap.Logger,
) *Machine {
	return &Machine{
		store:    st,
		governor: gov,
		exec:     exec,
		provider: provider,
		bus:      bus,
		logger:   logger,
		policy:   executor.DefaultPolicy(),
		tokens:   make(map[string]*governor.Token),
	}
}

// SetSummarizer 挂载通话后摘要器，可以不挂载
func (m *Machine) SetSummarizer(s Summarizer) {
	m.summarizer = s
}

// Initiate 发起一通外呼：先准入，再落库，最后经重试执行器下发到提供商。
// 下发失败时通话记为 failed 并立即归还并发额度。
func (m *Machine) Initiate(ctx context.Context, params InitiateParams) (*models.Call, error) {
	if params.ToNumber == "" {
		return nil, errhandler.NewValidationError("lifecycle", "to number is required")
	}
	if params.UserID == 0 {
		return nil, errhandler.NewValidationError("lifecycle", "user id is required")
	}

	tenant := strconv.FormatUint(uint64(params.UserID), 10)
	token, err := m.governor.Admit(ctx, tenant)
	if err != nil {
		return nil, err
	}

	call := &models.Call{
		ID:         uuid.NewString(),
		Direction:  models.CallDirectionOutbound,
		FromNumber: params.FromNumber,
		ToNumber:   params.ToNumber,
		UserID:     params.UserID,
		AgentID:    params.AgentID,
		Status:     models.CallStatusInitiated,
	}
	if err := m.store.CreateCall(ctx, call); err != nil {
		token.Release()
		return nil, errhandler.NewError("lifecycle", "create call record failed", err)
	}

	m.mu.Lock()
	m.tokens[call.ID] = token
	m.mu.Unlock()

	// 先广播 initiated，下发失败时后续的 failed 事件才有配对的起点
	m.emitUpdate(call)

	ref, err := executor.Do(ctx, m.exec, "telephony", m.policy, func(ctx context.Context) (string, error) {
		return m.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
			From: params.FromNumber,
			To:   params.ToNumber,
		})
	})
	if err != nil {
		m.logger.Error("外呼下发失败",
			zap.String("call_id", call.ID),
			zap.Error(err))
		// 请求上下文可能已取消，失败状态仍要落库
		if _, applyErr := m.apply(context.WithoutCancel(ctx), call, StatusUpdate{
			Status: models.CallStatusFailed,
			Reason: err.Error(),
		}); applyErr != nil {
			m.logger.Error("记录下发失败状态失败",
				zap.String("call_id", call.ID),
				zap.Error(applyErr))
		}
		return nil, err
	}

	if err := m.store.SetCallExternalID(ctx, call.ID, ref); err != nil {
		m.logger.Error("写入提供商呼叫引用失败",
			zap.String("call_id", call.ID),
			zap.String("provider_ref", ref),
			zap.Error(err))
	} else {
		call.ExternalID = &ref
	}

	m.logger.Info("外呼已发起",
		zap.String("call_id", call.ID),
		zap.String("to", params.ToNumber),
		zap.String("provider_ref", ref))
	m.emitUpdate(call)
	return call, nil
}

// HandleProviderStatus 处理提供商状态回调。
// 回调可能乱序、重复送达：非法迁移是幂等空操作，返回当前记录而不报错。
func (m *Machine) HandleProviderStatus(ctx context.Context, externalID string, update StatusUpdate) (*models.Call, error) {
	call, err := m.store.FindCallByExternalID(ctx, externalID)
	if err != nil {
		return nil, errhandler.NewError("lifecycle", "lookup call by provider ref failed", err)
	}
	if call == nil {
		return nil, errhandler.NewNotFoundError("lifecycle", "no call for provider ref "+externalID)
	}
	return m.apply(ctx, call, update)
}

// EndCall 主动挂断。initiated 阶段不允许挂断，终态重复挂断是空操作。
func (m *Machine) EndCall(ctx context.Context, callID string) (*models.Call, error) {
	call, err := m.store.FindCall(ctx, callID)
	if err != nil {
		return nil, errhandler.NewError("lifecycle", "lookup call failed", err)
	}
	if call == nil {
		return nil, errhandler.NewNotFoundError("lifecycle", "call "+callID+" not found")
	}
	if call.Status.IsTerminal() {
		return call, nil
	}
	if call.Status == models.CallStatusInitiated {
		return nil, errhandler.NewValidationError("lifecycle", "call has not been accepted by the provider yet")
	}

	if call.ExternalID != nil {
		err := m.exec.Execute(ctx, "telephony", m.policy, func(ctx context.Context) error {
			return m.provider.TerminateCall(ctx, *call.ExternalID)
		})
		if err != nil {
			// 提供商侧挂断失败不阻塞本地终态
			m.logger.Warn("提供商侧挂断失败",
				zap.String("call_id", call.ID),
				zap.Error(err))
		}
	}
	return m.apply(ctx, call, StatusUpdate{Status: models.CallStatusCompleted})
}

// apply 执行一次状态迁移。迁移合法性由 CanTransitionTo 判定，
// 不合法时不写库、不发事件，直接返回当前记录。
// 持久化是条件写（仅当库内状态仍是判定时的状态），写失败说明有并发迁移
// 抢先落库，重读最新记录后重新判定，保证终态不会被过期快照覆盖。
func (m *Machine) apply(ctx context.Context, call *models.Call, update StatusUpdate) (*models.Call, error) {
	var from models.CallStatus
	for {
		if !call.Status.CanTransitionTo(update.Status) {
			m.logger.Debug("忽略非法或重复的状态事件",
				zap.String("call_id", call.ID),
				zap.String("from", string(call.Status)),
				zap.String("to", string(update.Status)))
			return call, nil
		}

		now := time.Now()
		if update.Status == models.CallStatusInProgress && call.AnsweredAt == nil {
			call.AnsweredAt = &now
		}
		if update.Status.IsTerminal() {
			call.EndedAt = &now
			switch {
			case update.DurationSec > 0:
				call.DurationSec = update.DurationSec
			case call.AnsweredAt != nil:
				call.DurationSec = int(now.Sub(*call.AnsweredAt).Seconds())
			}
			if update.RecordingURL != "" {
				call.RecordingURL = update.RecordingURL
			}
			if update.Reason != "" {
				call.ErrorMessage = update.Reason
			}
		}

		from = call.Status
		call.Status = update.Status
		applied, err := m.store.TransitionCallStatus(ctx, call, from)
		if err != nil {
			call.Status = from
			return nil, errhandler.NewError("lifecycle", "persist call status failed", err)
		}
		if applied {
			break
		}

		fresh, err := m.store.FindCall(ctx, call.ID)
		if err != nil {
			return nil, errhandler.NewError("lifecycle", "reload call after contended transition failed", err)
		}
		if fresh == nil {
			return nil, errhandler.NewNotFoundError("lifecycle", "call "+call.ID+" disappeared during transition")
		}
		call = fresh
	}

	m.logger.Info("通话状态迁移",
		zap.String("call_id", call.ID),
		zap.String("from", string(from)),
		zap.String("to", string(call.Status)))

	if call.Status.IsTerminal() {
		m.releaseToken(call.ID)
		if call.Status == models.CallStatusCompleted {
			m.summarizeAsync(call)
		}
	}
	m.emitUpdate(call)
	return call, nil
}

func (m *Machine) releaseToken(callID string) {
	m.mu.Lock()
	token, ok := m.tokens[callID]
	if ok {
		delete(m.tokens, callID)
	}
	m.mu.Unlock()
	if ok {
		token.Release()
	}
}

func (m *Machine) emitUpdate(call *models.Call) {
	data := map[string]interface{}{
		"call_id":  call.ID,
		"status":   string(call.Status),
		"user_id":  call.UserID,
		"terminal": call.Status.IsTerminal(),
	}
	if call.ExternalID != nil {
		data["provider_ref"] = *call.ExternalID
	}
	m.bus.PublishType(events.TypeCallUpdate, data, "lifecycle")
}

// summarizeAsync 通话结束后异步生成摘要，失败只记日志
func (m *Machine) summarizeAsync(call *models.Call) {
	if m.summarizer == nil {
		return
	}
	callID := call.ID
	userID := call.UserID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		transcript, err := m.store.FinalTranscript(ctx, callID)
		if err != nil {
			m.logger.Warn("读取转写全文失败", zap.String("call_id", callID), zap.Error(err))
			return
		}
		summary, err := m.summarizer.Summarize(ctx, callID, transcript)
		if err != nil {
			m.logger.Warn("生成通话摘要失败", zap.String("call_id", callID), zap.Error(err))
			return
		}
		if summary == "" {
			return
		}

		if err := m.store.SetCallSummary(ctx, callID, summary); err != nil {
			m.logger.Warn("写入通话摘要失败", zap.String("call_id", callID), zap.Error(err))
			return
		}
		m.bus.PublishType(events.TypeCallSummaryComplete, map[string]interface{}{
			"call_id": callID,
			"user_id": userID,
			"summary": summary,
		}, "lifecycle")
	}()
}
