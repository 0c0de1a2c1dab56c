// Package llm contains the provider-neutral types for chat completions:
// messages, tool definitions, token usage, a non-streaming Complete call and
// a streaming call that yields text fragments followed by usage. It also
// holds the static price table used to estimate the cost of each call.
package llm
