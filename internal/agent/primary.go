package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/llm"
	"VaultGuard/internal/prompt"
	"VaultGuard/internal/web3"
)

// BalanceToolName 是主守护者可调用的金库余额工具名。
const BalanceToolName = "get_vault_balance"

var balanceTool = llm.Tool{
	Name:        BalanceToolName,
	Description: "Returns the current balance of this challenge's vault contract in ETH.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
}

// BalanceReader 返回挑战金库合约的链上余额（wei）。
type BalanceReader interface {
	Balance(ctx context.Context, challengeID string) (*big.Int, error)
}

// PrimaryInput 是一次主守护者生成的输入。
type PrimaryInput struct {
	ChallengeID string
	Secret      string
	History     []Turn
}

// Primary 是带余额工具的主守护者。
type Primary struct {
	llm      llm.Client
	prompts  prompt.Source
	balances BalanceReader
	settings
}

// NewPrimary 创建主守护者，balances 为空时不向模型提供余额工具。
func NewPrimary(client llm.Client, prompts prompt.Source, balances BalanceReader, opts ...Option) *Primary {
	return &Primary{
		llm:      client,
		prompts:  prompts,
		balances: balances,
		settings: newSettings(defaultPrimaryTemperature, "agent.primary", opts),
	}
}

// Generate 生成主守护者的回复。模型请求工具时执行工具并继续对话，
// 最多 maxToolRounds 轮，之后的请求不再携带工具定义，迫使模型给出文本答复。
func (p *Primary) Generate(ctx context.Context, in PrimaryInput) (*Result, error) {
	if p == nil || p.llm == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "primary agent not initialized")
	}
	templates, err := p.prompts.Load(ctx, in.ChallengeID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "load guardian prompt")
	}

	callCtx := ctx
	if p.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.llmTimeout)
		defer cancel()
	}

	messages := make([]llm.Message, 0, len(in.History)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: prompt.Render(templates.Primary, in.Secret, p.rewardMessage),
	})
	messages = append(messages, historyMessages(in.History)...)

	result := &Result{Model: p.model}
	for round := 0; ; round++ {
		req := llm.Request{Model: p.model, Messages: messages, Temperature: p.temperature}
		toolsOffered := p.balances != nil && round < p.maxToolRounds
		if toolsOffered {
			req.Tools = []llm.Tool{balanceTool}
		}

		resp, err := p.llm.Complete(callCtx, req)
		if err != nil {
			return nil, wrapLLMError(err, "primary")
		}
		result.Usage.Add(resp.Usage)
		if resp.Model != "" {
			result.Model = resp.Model
		}

		if !toolsOffered || len(resp.ToolCalls) == 0 {
			result.Text = resp.Content
			break
		}

		result.ToolRounds++
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			output, err := p.runTool(callCtx, in.ChallengeID, call)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	recordUsage(p.settings, "primary", in.ChallengeID, result.Model, result.Usage)
	return result, nil
}

func (p *Primary) runTool(ctx context.Context, challengeID string, call llm.ToolCall) (string, error) {
	if call.Name != BalanceToolName {
		p.logger.Warn("模型请求了未知工具", slog.String("tool", call.Name), slog.String("challenge_id", challengeID))
		return fmt.Sprintf("Unknown tool %q.", call.Name), nil
	}
	wei, err := p.balances.Balance(ctx, challengeID)
	if err != nil {
		return "", err
	}
	eth := web3.FormatEther(wei)
	p.logger.Debug("金库余额工具调用", slog.String("challenge_id", challengeID), slog.String("eth", eth))
	return fmt.Sprintf("The vault currently holds %s ETH.", eth), nil
}
