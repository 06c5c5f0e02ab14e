package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SlackNotifier delivers moderation events to a Slack channel via an
// "incoming webhook". The webhook must already be configured in the slack
// workplace.
type SlackNotifier struct {
	SlackWebhookURL string

	// Fallback receives every event as well; usually a LogNotifier so the
	// structured log stays complete even when the webhook is down.
	Fallback Notifier
}

var _ Notifier = (*SlackNotifier)(nil)

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) RestrictionApplied(ctx context.Context, evt RestrictionEvent) error {
	if n.Fallback != nil {
		n.Fallback.RestrictionApplied(ctx, evt)
	}
	msg := "⚠️ Account Restricted ⚠️\n"
	msg += fmt.Sprintf("`%s` (%s)\n", evt.AccountID, evt.DisplayName)
	msg += fmt.Sprintf("Reason: %s\n", evt.Reason)
	msg += fmt.Sprintf("By: %s\n", evt.IssuerName)
	if evt.ExpiresAt != nil {
		msg += fmt.Sprintf("Expires: %s\n", evt.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return n.sendSlackMsg(ctx, msg)
}

func (n *SlackNotifier) RestrictionLifted(ctx context.Context, evt LiftEvent) error {
	if n.Fallback != nil {
		n.Fallback.RestrictionLifted(ctx, evt)
	}
	msg := "Restriction Lifted\n"
	msg += fmt.Sprintf("`%s` (%s)\n", evt.AccountID, evt.DisplayName)
	if evt.Expired {
		msg += "Expired\n"
	} else {
		msg += fmt.Sprintf("By: %s\n", evt.IssuerName)
	}
	return n.sendSlackMsg(ctx, msg)
}

func (n *SlackNotifier) AltDetected(ctx context.Context, evt AltEvent) error {
	if n.Fallback != nil {
		n.Fallback.AltDetected(ctx, evt)
	}
	msg := "⚠️ Restricted Alt Detected ⚠️\n"
	msg += fmt.Sprintf("`%s` (%s) connected from `%s`\n", evt.AccountID, evt.DisplayName, evt.Address)
	msg += fmt.Sprintf("Restricted accounts on address: `%s`\n", strings.Join(evt.RestrictedAlts, ", "))
	if evt.AutoRestricted {
		msg += "Auto-restricted!\n"
	}
	return n.sendSlackMsg(ctx, msg)
}

func (n *SlackNotifier) WatchlistHit(ctx context.Context, evt WatchlistEvent) error {
	if n.Fallback != nil {
		n.Fallback.WatchlistHit(ctx, evt)
	}
	msg := "👀 Watchlist Hit\n"
	msg += fmt.Sprintf("`%s` (%s) connected from `%s`\n", evt.AccountID, evt.DisplayName, evt.Address)
	if evt.Reason != "" {
		msg += fmt.Sprintf("Listed for: %s\n", evt.Reason)
	}
	return n.sendSlackMsg(ctx, msg)
}

func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	// loosely based on: https://golangcode.com/send-slack-messages-without-a-library/

	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := http.DefaultClient
	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
