package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/llm"
	"VaultGuard/internal/observability/metrics"
	"VaultGuard/pkg/logger"
)

// Turn 是请求中携带的一条历史消息。
type Turn struct {
	Role    challenge.Role `json:"role"`
	Content string         `json:"content"`
}

// Result 是主守护者的最终输出。
type Result struct {
	Text       string
	Usage      llm.Usage
	Model      string
	ToolRounds int
}

func loggerFor(name string) *slog.Logger {
	return logger.Named(name)
}

func historyMessages(history []Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == challenge.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	return messages
}

func wrapLLMError(err error, role string) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, role+" agent timed out")
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeExecutorFailure, err, role+" agent failed")
}

// recordUsage 记录 token 用量与估算成本，仅用于观测。
func recordUsage(s settings, role, challengeID, model string, usage llm.Usage) {
	cost, known := s.prices.EstimateCost(model, usage)
	s.logger.Info("LLM 调用用量",
		slog.String("role", role),
		slog.String("challenge_id", challengeID),
		slog.String("model", model),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens),
		slog.Int("total_tokens", usage.TotalTokens),
		slog.Float64("estimated_cost_usd", cost),
		slog.Bool("price_known", known),
	)
	metrics.ObserveLLMUsage(role, model, usage.PromptTokens, usage.CompletionTokens, cost)
}
