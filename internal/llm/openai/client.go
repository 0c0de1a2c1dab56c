package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	maxSSELineBytes  = 1 << 20
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容的 Chat Completions 接口。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Complete 发起一次非流式补全，返回文本、工具调用与用量。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, executorError(err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, executorError(nil, "OpenAI 响应中没有有效的 choices")
	}

	choice := decoded.Choices[0].Message
	out := &llm.Response{
		Content: choice.Content,
		Usage:   decoded.Usage.toUsage(),
		Model:   decoded.Model,
	}
	for _, call := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if out.Model == "" {
		out.Model = c.modelFor(req)
	}
	return out, nil
}

// Stream 发起流式补全，按到达顺序产出文本片段，最后一个片段携带用量。
func (c *Client) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		resp, err := c.post(ctx, req, true)
		if err != nil {
			yield(llm.Chunk{}, err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				yield(llm.Chunk{}, executorError(err, "解析 OpenAI 流式片段失败"))
				return
			}
			if event.Error != nil {
				yield(llm.Chunk{}, executorError(nil, "OpenAI 流式响应错误: "+event.Error.Message))
				return
			}

			var chunk llm.Chunk
			if len(event.Choices) > 0 {
				chunk.Text = event.Choices[0].Delta.Content
			}
			if event.Usage != nil {
				usage := event.Usage.toUsage()
				chunk.Usage = &usage
			}
			if chunk.Text == "" && chunk.Usage == nil {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(llm.Chunk{}, executorError(err, "读取 OpenAI 流式响应失败"))
		}
	}
}

func (c *Client) post(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	payload, err := c.buildPayload(req, stream)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, executorError(err, "构建 OpenAI 请求失败")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, executorError(err, "请求 OpenAI 失败")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, executorError(nil, fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return resp, nil
}

func (c *Client) modelFor(req llm.Request) string {
	if model := strings.TrimSpace(req.Model); model != "" {
		return model
	}
	return c.model
}

func (c *Client) buildPayload(req llm.Request, stream bool) ([]byte, error) {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		wm := wireMessage{Role: string(msg.Role), ToolCallID: msg.ToolCallID}
		if msg.Content != "" || len(msg.ToolCalls) == 0 {
			content := msg.Content
			wm.Content = &content
		}
		for _, call := range msg.ToolCalls {
			wc := wireToolCall{ID: call.ID, Type: "function"}
			wc.Function.Name = call.Name
			wc.Function.Arguments = call.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		messages = append(messages, wm)
	}

	body := wireRequest{
		Model:       c.modelFor(req),
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	for _, tool := range req.Tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wt := wireTool{Type: "function"}
		wt.Function.Name = tool.Name
		wt.Function.Description = tool.Description
		wt.Function.Parameters = params
		body.Tools = append(body.Tools, wt)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, executorError(err, "序列化 OpenAI 请求失败")
	}
	return encoded, nil
}

func executorError(cause error, message string) error {
	if cause == nil {
		return xerrors.New(xerrors.CodeExecutorFailure, message)
	}
	return xerrors.Wrap(xerrors.CodeExecutorFailure, cause, message)
}
