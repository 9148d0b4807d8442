package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// payloads builds the request body for each webhook type.
var payloads = map[string]func(*Alert) interface{}{
	"slack": func(a *Alert) interface{} {
		return map[string]string{"text": fmt.Sprintf("*%s* %s", label(a), a.Message)}
	},
	"teams": func(a *Alert) interface{} {
		return map[string]string{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": color(a),
			"summary":    a.RuleName,
			"title":      label(a) + " pagewatch: " + a.RuleName,
			"text":       a.Message,
		}
	},
	"http": func(a *Alert) interface{} {
		return map[string]*Alert{"alert": a}
	},
}

// deliver posts a to every configured webhook whose URL resolves. Failures are
// logged and do not stop delivery to the remaining targets.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		build, ok := payloads[wh.Type]
		if url == "" || !ok {
			continue
		}
		if err := e.post(url, build(a)); err != nil {
			slog.Error("alerts: webhook delivery failed", "type", wh.Type, "rule", a.RuleName, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

func (e *Engine) post(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func label(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func color(a *Alert) string {
	switch {
	case a.State == StateResolved:
		return "2EB67D"
	case a.Severity == "critical":
		return "FF4F6A"
	case a.Severity == "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
