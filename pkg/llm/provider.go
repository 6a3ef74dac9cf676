package llm

import "context"

// CompletionRequest 一次补全请求
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  float32
	MaxTokens    int
}

// Provider 大模型提供商抽象
type Provider interface {
	// Complete 执行一次对话补全，返回模型输出文本
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
