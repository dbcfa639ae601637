package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"lks_builder/internal/claims"
	"lks_builder/internal/quality"
)

// Message represents an outbound run summary.
type Message struct {
	Text string `json:"text"`
}

// Webhook posts messages as JSON to a URL. A zero URL disables sending.
type Webhook struct {
	URL    string
	Client *http.Client
}

// Enabled reports whether a URL is configured.
func (w Webhook) Enabled() bool {
	return strings.TrimSpace(w.URL) != ""
}

// Send posts msg if configured.
func (w Webhook) Send(ctx context.Context, msg Message) error {
	if !w.Enabled() {
		return nil
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// RunSummary renders the one-message digest of a build run.
func RunSummary(source, output string, stats claims.Stats, newRows int, report quality.Report) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "LKS built from %s\n", filepath.Base(source))
	fmt.Fprintf(&b, "SOs after TRAS: %d, new rows: %d\n", stats.SOsAfterTras, newRows)
	fmt.Fprintf(&b, "Missing old/card/new: %d/%d/%d\n",
		report.Counts["old"], report.Counts["card"], report.Counts["new"])
	fmt.Fprintf(&b, "Defective rows: %d", len(report.Missing))
	if output != "" {
		fmt.Fprintf(&b, "\nOutput: %s", filepath.Base(output))
	}
	return Message{Text: b.String()}
}
