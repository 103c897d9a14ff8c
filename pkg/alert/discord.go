package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Discord sends notices via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

var discordColors = map[Severity]int{
	SeverityInfo:     0x2ECC71,
	SeverityWarning:  0xF1C40F,
	SeverityCritical: 0xE74C3C,
}

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	fields := make([]map[string]any, 0, len(n.Fields))
	for _, f := range n.Fields[:min(len(n.Fields), 25)] {
		fields = append(fields, map[string]any{"name": f.Name, "value": f.Value, "inline": true})
	}

	embed := map[string]any{
		"title":       fmt.Sprintf("%s %s", icon(n.Severity), n.Title),
		"description": n.Body,
		"color":       discordColors[n.Severity],
		"fields":      fields,
		"timestamp":   n.Time.UTC().Format(time.RFC3339),
	}
	if n.RunID != "" {
		embed["footer"] = map[string]any{"text": "run " + n.RunID}
	}

	body, err := marshal("discord", map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return err
	}
	return postJSON(ctx, d.client, "discord webhook", d.webhookURL, body, nil)
}
