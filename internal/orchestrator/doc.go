// Package orchestrator 实现按条计费的对话流水线：校验请求、检查额度、
// 记账、判断是否破解口令，然后调用一个或两个守护者生成回复并以片段流输出。
package orchestrator
