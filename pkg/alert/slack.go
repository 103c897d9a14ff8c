package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Slack sends notices via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	// Block Kit: header, body, then fields two per row as Slack renders them.
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s %s", icon(n.Severity), n.Title),
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": n.Body,
			},
		},
	}

	if len(n.Fields) > 0 {
		var fields []map[string]any
		for _, f := range n.Fields[:min(len(n.Fields), 10)] {
			fields = append(fields, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s:* %s", f.Name, f.Value),
			})
		}
		blocks = append(blocks, map[string]any{
			"type":   "section",
			"fields": fields,
		})
	}

	if n.RunID != "" {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": "run " + n.RunID},
			},
		})
	}

	body, err := marshal("slack", map[string]any{"blocks": blocks})
	if err != nil {
		return err
	}
	return postJSON(ctx, s.client, "slack webhook", s.webhookURL, body, nil)
}
