package vaultguard

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
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout applies to the JSON endpoints of clients created without
// a custom http.Client. Chat streams are bounded by the caller's context only.
const DefaultHTTPTimeout = 15 * time.Second

// HeaderConversationID carries the conversation id chosen by the server.
const HeaderConversationID = "X-Conversation-Id"

// Client wraps the HTTP interactions with the VaultGuard REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	streamHTTP *http.Client

	mu         sync.RWMutex
	adminToken string
}

// Turn is a single chat message sent to the guardian.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload of POST /api/chat.
type ChatRequest struct {
	Messages       []Turn `json:"messages"`
	ChallengeID    string `json:"challengeId"`
	ConversationID string `json:"conversationId,omitempty"`
	ParticipantID  string `json:"participantId"`
}

// Balance reports the vault balance of a challenge.
type Balance struct {
	ChallengeID string `json:"challengeId"`
	Wei         string `json:"wei"`
	ETH         string `json:"eth"`
}

// Expiration reports when a challenge vault expires.
type Expiration struct {
	ChallengeID string `json:"challengeId"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// Time converts the unix timestamp to time.Time.
func (e Expiration) Time() time.Time {
	return time.Unix(e.ExpiresAt, 0).UTC()
}

// Transaction identifies a submitted vault transaction.
type Transaction struct {
	ChallengeID string `json:"challengeId"`
	TxHash      string `json:"txHash"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("vaultguard api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the VaultGuard API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	stream := httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
		stream = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, streamHTTP: stream}, nil
}

// SetAdminToken stores the token used by Unlock and DistributeFunds.
func (c *Client) SetAdminToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adminToken = token
}

// AdminToken returns the currently stored admin token.
func (c *Client) AdminToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adminToken
}

// ChatStream is an open reply stream.
type ChatStream struct {
	ConversationID string

	body io.ReadCloser
}

// Fragments yields the decoded reply fragments in order. The body is closed
// once iteration stops.
func (s *ChatStream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.body.Close()
		scanner := bufio.NewScanner(s.body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			fragment, err := DecodeFrame(line)
			if !yield(fragment, err) || err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read stream: %w", err))
		}
	}
}

// Text drains the stream and returns the concatenated reply.
func (s *ChatStream) Text() (string, error) {
	var b strings.Builder
	for fragment, err := range s.Fragments() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}

// Close releases the stream without reading the rest of it.
func (s *ChatStream) Close() error {
	return s.body.Close()
}

var frameUnescaper = strings.NewReplacer(`\n`, "\n", `\"`, `"`)

// DecodeFrame parses one 0:"<escaped>" line.
func DecodeFrame(line string) (string, error) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, `0:"`) || !strings.HasSuffix(line, `"`) || len(line) < 4 {
		return "", fmt.Errorf("malformed frame: %q", line)
	}
	return frameUnescaper.Replace(line[3 : len(line)-1]), nil
}

// Chat sends the conversation to the guardian and opens the reply stream.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamHTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return &ChatStream{ConversationID: resp.Header.Get(HeaderConversationID), body: resp.Body}, nil
}

// Balance fetches the vault balance of a challenge.
func (c *Client) Balance(ctx context.Context, challengeID string) (Balance, error) {
	var out Balance
	if err := c.get(ctx, challengePath(challengeID, "balance"), &out); err != nil {
		return Balance{}, err
	}
	return out, nil
}

// Expiration fetches the vault expiration of a challenge.
func (c *Client) Expiration(ctx context.Context, challengeID string) (Expiration, error) {
	var out Expiration
	if err := c.get(ctx, challengePath(challengeID, "expiration"), &out); err != nil {
		return Expiration{}, err
	}
	return out, nil
}

// Unlock pays the vault out to recipient. Requires an admin token.
func (c *Client) Unlock(ctx context.Context, challengeID, recipient string) (Transaction, error) {
	var out Transaction
	payload := struct {
		Address string `json:"address"`
	}{Address: recipient}
	if err := c.post(ctx, challengePath(challengeID, "unlock"), payload, &out, true); err != nil {
		return Transaction{}, err
	}
	return out, nil
}

// DistributeFunds triggers the vault's distribution. Requires an admin token.
func (c *Client) DistributeFunds(ctx context.Context, challengeID string) (Transaction, error) {
	var out Transaction
	if err := c.post(ctx, challengePath(challengeID, "distribute"), struct{}{}, &out, true); err != nil {
		return Transaction{}, err
	}
	return out, nil
}

func challengePath(challengeID, action string) string {
	return "/api/challenges/" + url.PathEscape(challengeID) + "/" + action
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		token := c.AdminToken()
		if token == "" {
			return nil, errors.New("vaultguard: admin token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
