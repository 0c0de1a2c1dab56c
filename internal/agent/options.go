package agent

import (
	"log/slog"
	"time"

	"VaultGuard/internal/llm"
)

const (
	defaultPrimaryTemperature   = 0.7
	defaultSecondaryTemperature = 0
	defaultMaxToolRounds        = 3
)

type settings struct {
	model         string
	temperature   float64
	maxToolRounds int
	rewardMessage string
	prices        llm.PriceTable
	llmTimeout    time.Duration
	logger        *slog.Logger
}

// Option 定义可选的生成器配置。
type Option func(*settings)

// WithModel 指定模型名，为空时使用客户端默认模型。
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithTemperature 覆盖采样温度。
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// WithMaxToolRounds 设置主守护者最多执行的工具调用轮数。
func WithMaxToolRounds(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxToolRounds = n
		}
	}
}

// WithRewardMessage 设置替换模板中 {reward_message} 的文本。
func WithRewardMessage(msg string) Option {
	return func(s *settings) { s.rewardMessage = msg }
}

// WithPriceTable 设置成本估算使用的单价表。
func WithPriceTable(table llm.PriceTable) Option {
	return func(s *settings) {
		if table != nil {
			s.prices = table
		}
	}
}

// WithLLMTimeout 设置调用大模型的超时时间，0 表示不限制。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		if timeout < 0 {
			timeout = 0
		}
		s.llmTimeout = timeout
	}
}

// WithLogger 指定日志实例。
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func newSettings(temperature float64, name string, opts []Option) settings {
	s := settings{
		temperature:   temperature,
		maxToolRounds: defaultMaxToolRounds,
		prices:        llm.NewPriceTable(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = loggerFor(name)
	}
	return s
}
