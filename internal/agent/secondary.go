package agent

import (
	"context"
	"iter"

	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/llm"
	"VaultGuard/internal/prompt"
)

// SecondaryInput 是二级守护者的输入，Draft 为主守护者的草稿。
type SecondaryInput struct {
	ChallengeID string
	Secret      string
	History     []Turn
	Draft       string
}

// Secondary 审查主守护者的草稿并以流的形式输出最终回复。
type Secondary struct {
	llm     llm.Client
	prompts prompt.Source
	settings
}

// NewSecondary 创建二级守护者，默认温度为 0。
func NewSecondary(client llm.Client, prompts prompt.Source, opts ...Option) *Secondary {
	return &Secondary{
		llm:      client,
		prompts:  prompts,
		settings: newSettings(defaultSecondaryTemperature, "agent.secondary", opts),
	}
}

// Stream 按模型产出顺序返回文本片段。出错时产出一次错误后结束；
// 调用方提前停止迭代时底层请求随之取消。
func (s *Secondary) Stream(ctx context.Context, in SecondaryInput) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s == nil || s.llm == nil {
			yield("", xerrors.New(xerrors.CodeInitializationFailure, "secondary agent not initialized"))
			return
		}
		templates, err := s.prompts.Load(ctx, in.ChallengeID)
		if err != nil {
			yield("", xerrors.Wrap(xerrors.CodeUnknown, err, "load guardian prompt"))
			return
		}

		callCtx, cancel := context.WithCancel(ctx)
		if s.llmTimeout > 0 {
			cancel()
			callCtx, cancel = context.WithTimeout(ctx, s.llmTimeout)
		}
		defer cancel()

		messages := make([]llm.Message, 0, len(in.History)+2)
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: prompt.Render(templates.Secondary, in.Secret, s.rewardMessage),
		})
		messages = append(messages, historyMessages(in.History)...)
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: in.Draft})

		req := llm.Request{Model: s.model, Messages: messages, Temperature: s.temperature}
		var usage llm.Usage
		for chunk, err := range s.llm.Stream(callCtx, req) {
			if err != nil {
				yield("", wrapLLMError(err, "secondary"))
				return
			}
			if chunk.Usage != nil {
				usage.Add(*chunk.Usage)
			}
			if chunk.Text == "" {
				continue
			}
			if !yield(chunk.Text, nil) {
				return
			}
		}
		recordUsage(s.settings, "secondary", in.ChallengeID, s.model, usage)
	}
}
