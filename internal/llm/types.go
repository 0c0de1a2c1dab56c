package llm

import (
	"context"
	"encoding/json"
	"iter"
)

// Role 是对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是发送给大模型的一条消息。
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool 描述一个可以由模型调用的函数。
type Tool struct {
	Name        string
	Description string
	// Parameters 是 JSON Schema，为空时视为无参数对象。
	Parameters json.RawMessage
}

// ToolCall 是模型发起的一次函数调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage 记录一次调用的 token 用量。
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add 累加用量。
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Request 是一次补全请求。
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float64
}

// Response 是非流式补全的结果。
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	Model     string
}

// Chunk 是流式补全中的一个片段。Usage 仅在最后一个片段中出现。
type Chunk struct {
	Text  string
	Usage *Usage
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream 按到达顺序产出文本片段，出错时产出一次错误后结束。
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}
