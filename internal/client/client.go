package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"flightchat/internal/models"
)

// Update is one structured transcript update decoded from the agent stream.
type Update struct {
	Role    models.Role
	Content string
}

// DefaultStreamTimeout bounds a single agent turn when config leaves it unset.
const DefaultStreamTimeout = 2 * time.Minute

// Client issues streaming chat requests against the agent endpoint and
// decodes the incremental response into updates.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
}

// New constructs a Client for the given agent endpoint.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		timeout:  timeout,
	}
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

type eventPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Stream sends one user message tagged with its chat id and returns a channel
// of decoded updates. The channel closes when the agent finishes the turn,
// the context is cancelled, or the transport fails; read failures are logged
// and never surfaced as updates.
func (c *Client) Stream(ctx context.Context, text, chatID string) (<-chan Update, error) {
	body, err := json.Marshal(chatRequest{Message: text, ThreadID: chatID})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("agent endpoint returned %s", resp.Status)
	}

	updates := make(chan Update)
	go func() {
		defer cancel()
		defer close(updates)
		defer resp.Body.Close()
		c.consume(reqCtx, resp.Body, updates)
	}()
	return updates, nil
}

func (c *Client) consume(ctx context.Context, body io.Reader, updates chan<- Update) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitRecords)

	for scanner.Scan() {
		update, ok := parseRecord(scanner.Text())
		if !ok {
			continue
		}
		select {
		case updates <- update:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		// Stream ends here; whatever reached the transcript stays as-is.
		log.Printf("agent stream read failed: %v", err)
	}
}

// splitRecords yields one event record per blank-line delimiter.
func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseRecord decodes one event record. Records without the data: tag, with
// broken JSON, or with an unknown type are dropped without aborting the
// stream.
func parseRecord(record string) (Update, bool) {
	record = strings.TrimSpace(record)
	if !strings.HasPrefix(record, "data:") {
		return Update{}, false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(record, "data:"))

	var evt eventPayload
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		debugLog("drop malformed record %q: %v", raw, err)
		return Update{}, false
	}
	switch evt.Type {
	case "message":
		return Update{Role: models.RoleAgent, Content: evt.Content}, true
	case "tool":
		return Update{Role: models.RoleTool, Content: evt.Content}, true
	default:
		debugLog("drop record with unknown type %q", evt.Type)
		return Update{}, false
	}
}
