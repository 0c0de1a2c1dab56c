package llm

import "strings"

// Price 是每 1000 token 的美元单价。
type Price struct {
	Prompt     float64
	Completion float64
}

// DefaultPrices 是内置的模型单价表，仅用于成本估算。
var DefaultPrices = map[string]Price{
	"gpt-4o":        {Prompt: 0.0025, Completion: 0.01},
	"gpt-4o-mini":   {Prompt: 0.00015, Completion: 0.0006},
	"gpt-4.1":       {Prompt: 0.002, Completion: 0.008},
	"gpt-4.1-mini":  {Prompt: 0.0004, Completion: 0.0016},
	"gpt-4-turbo":   {Prompt: 0.01, Completion: 0.03},
	"gpt-3.5-turbo": {Prompt: 0.0005, Completion: 0.0015},
}

// PriceTable 按模型名查询单价。
type PriceTable map[string]Price

// NewPriceTable 合并内置单价与覆盖项。
func NewPriceTable(overrides map[string]Price) PriceTable {
	table := make(PriceTable, len(DefaultPrices)+len(overrides))
	for model, price := range DefaultPrices {
		table[model] = price
	}
	for model, price := range overrides {
		table[strings.ToLower(model)] = price
	}
	return table
}

// Lookup 返回模型单价。带日期后缀的模型名 (gpt-4o-2024-08-06) 回退到最长的前缀匹配。
func (t PriceTable) Lookup(model string) (Price, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if price, ok := t[model]; ok {
		return price, true
	}
	best := ""
	for name := range t {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return t[best], true
}

// EstimateCost 估算一次调用的美元成本，未知模型返回 0 与 false。
func (t PriceTable) EstimateCost(model string, usage Usage) (float64, bool) {
	price, ok := t.Lookup(model)
	if !ok {
		return 0, false
	}
	return float64(usage.PromptTokens)/1000*price.Prompt + float64(usage.CompletionTokens)/1000*price.Completion, true
}
