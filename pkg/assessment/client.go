// Package assessment calls the external free-text evaluation service and
// turns its answer into a structured assessment.
package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/dealmatch/internal/retry"
	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/validation"
)

const assessPrompt = `You are evaluating a startup's problem/solution submission for an investor matching platform.

Score each dimension from 0 to 10:
- "clarity": is the problem stated precisely?
- "specificity": is the target customer narrow and concrete?
- "evidence": is there real customer evidence (interviews, pilots, letters of intent)?
- "market_validation": has anyone paid or committed to pay?
- "founder_credibility": does the team have domain expertise for this problem?
- "worth_solving": is the problem painful and frequent enough to build a company on?

Also return "pass" (boolean, your provisional verdict), "insights" (list of strings), "gaps" (list of strings) and "red_flags" (list of strings).

Be strict. Most submissions should average below 6.

Submission:
%s

Return ONLY one JSON object with the keys above, no other text.`

// Config configures the client.
type Config struct {
	Provider string // "openai" or "anthropic"
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Retry    retry.Policy
}

// Client evaluates submissions through an LLM provider.
type Client struct {
	client   *http.Client
	provider string
	model    string
	apiKey   string
	baseURL  string
	retry    retry.Policy
	budget   *Budget
	log      *slog.Logger
}

// NewClient creates a client. budget may be nil for unlimited calls.
func NewClient(cfg Config, budget *Budget, log *slog.Logger) *Client {
	modelName := cfg.Model
	if modelName == "" {
		switch cfg.Provider {
		case "anthropic":
			modelName = "claude-sonnet-4-20250514"
		default:
			modelName = "gpt-4o-mini"
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		client:   &http.Client{Timeout: timeout},
		provider: cfg.Provider,
		model:    modelName,
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		retry:    cfg.Retry,
		budget:   budget,
		log:      log.With("component", "assessment"),
	}
}

// Assess asks the service to evaluate one subject's submission. A
// response that cannot be parsed is returned as a Malformed assessment,
// not as an error. Errors mean the call itself failed after retries or
// the budget is exhausted (see ErrBudgetExhausted).
func (c *Client) Assess(ctx context.Context, s *model.Subject) (validation.Assessment, error) {
	prompt := fmt.Sprintf(assessPrompt, describe(s))

	var raw string
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		// Every HTTP attempt, retries included, spends from the budget.
		if c.budget != nil {
			if err := c.budget.Reserve(ctx); err != nil {
				if errors.Is(err, ErrBudgetExhausted) {
					return retry.Permanent(err)
				}
				return err
			}
		}
		var err error
		switch c.provider {
		case "anthropic":
			raw, err = c.callAnthropic(ctx, prompt)
		default:
			raw, err = c.callOpenAI(ctx, prompt)
		}
		return err
	})
	if errors.Is(err, errMalformedReply) {
		c.log.WarnContext(ctx, "unreadable assessment reply", "subject_id", s.ID, "error", err)
		return validation.Assessment{Malformed: true}, nil
	}
	if err != nil {
		return validation.Assessment{}, fmt.Errorf("assess subject %s: %w", s.ID, err)
	}

	a := validation.ParseAssessment(raw)
	if a.Malformed {
		c.log.WarnContext(ctx, "malformed assessment response",
			"subject_id", s.ID, "raw", truncateStr(raw, 300))
	}
	return a, nil
}

func describe(s *model.Subject) string {
	var b strings.Builder
	field := func(name, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, v)
		}
	}
	field("Company", s.Name)
	field("Problem", s.Problem)
	field("Solution", s.Solution)
	field("Target customer", s.TargetCustomer)
	field("Team", s.TeamBackground)
	field("Market", s.MarketNotes)
	if s.InterviewCount != nil {
		fmt.Fprintf(&b, "Customer interviews: %d\n", *s.InterviewCount)
	}
	if s.HasPilot {
		b.WriteString("Running a paid or unpaid pilot: yes\n")
	}
	if s.HasLOI {
		b.WriteString("Holds a letter of intent: yes\n")
	}
	return b.String()
}

func (c *Client) callOpenAI(ctx context.Context, prompt string) (string, error) {
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.post(ctx, "openai", baseURL+"/v1/chat/completions", headers, payload, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", retry.Permanent(fmt.Errorf("%w: openai returned no choices", errMalformedReply))
	}
	return result.Choices[0].Message.Content, nil
}

func (c *Client) callAnthropic(ctx context.Context, prompt string) (string, error) {
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	payload := map[string]any{
		"model":      c.model,
		"max_tokens": 2048,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}
	if err := c.post(ctx, "anthropic", baseURL+"/v1/messages", headers, payload, &result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", retry.Permanent(fmt.Errorf("%w: anthropic returned no content", errMalformedReply))
	}
	return result.Content[0].Text, nil
}

// errMalformedReply marks a 200 response whose body is not the provider's
// envelope. It is answered with a malformed assessment, not retried.
var errMalformedReply = errors.New("malformed reply")

// post sends a JSON request. Client errors other than 429 are permanent;
// network errors, 429 and 5xx are retried by the caller.
func (c *Client) post(ctx context.Context, name, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal %s request: %w", name, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create %s request: %w", name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("%w: decode %s response: %v", errMalformedReply, name, err))
	}
	return nil
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
