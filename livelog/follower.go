package livelog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/auditmos/devlens/logging"
)

// Event is one named server-sent event. Record holds the decoded JSON
// object when Data is one; otherwise it is nil and Data is raw text.
type Event struct {
	Name   string
	Data   string
	Record map[string]interface{}
}

// Follower reads a live log stream. It is the non-browser counterpart of
// the page script: it listens for "log" events only and tries JSON first.
type Follower struct {
	URL    string
	Client *http.Client
}

const maxEventSize = 1 << 20

// Follow blocks delivering events to fn until ctx is cancelled (returning
// nil) or the stream fails.
func (f *Follower) Follow(ctx context.Context, fn func(Event)) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	err = readEvents(resp.Body, func(ev Event) {
		if ev.Name != EventLog {
			return
		}
		var record map[string]interface{}
		if json.Unmarshal([]byte(ev.Data), &record) == nil {
			ev.Record = record
		}
		fn(ev)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error     string `json:"error"`
		ErrorType string `json:"error_type"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		if payload.ErrorType == string(logging.ModeNotAllowed) {
			return fmt.Errorf("server returned %d: %w", resp.StatusCode, ErrModeNotAllowed)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func readEvents(r io.Reader, fn func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				fn(Event{Name: name, Data: strings.Join(data, "\n")})
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
