package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// Notice is one human-relevant line derived from the server event stream.
type Notice struct {
	Timestamp float64
	Level     string // info, warning, error, success
	Message   string
	History   bool // replayed from before this CLI connected
}

// StreamOptions tune the event stream consumer.
type StreamOptions struct {
	History bool // also surface the server's recent event history
}

// event mirrors the JSON payload of one server-sent event. The server is
// not consistent about key names: operations are keyed by "operation_id"
// or "current_operation", timestamps by "timestamp" or "started_at",
// depending on the event type.
type event struct {
	Timestamp        float64     `json:"timestamp"`
	StartedAt        float64     `json:"started_at"`
	Level            string      `json:"level"`
	Msg              string      `json:"msg"`
	OperationID      string      `json:"operation_id"`
	CurrentOperation string      `json:"current_operation"`
	Title            string      `json:"title"`
	StartedBy        string      `json:"started_by"`
	Success          successFlag `json:"success"`
	ErrorMsg         string      `json:"errormsg"`
}

func (e *event) operation() string {
	if e.OperationID != "" {
		return e.OperationID
	}
	return e.CurrentOperation
}

func (e *event) time() float64 {
	if e.Timestamp != 0 {
		return e.Timestamp
	}
	return e.StartedAt
}

// operation is the tracked state of a server-side job between its start
// and end events.
type operation struct {
	Title     string
	StartedBy string
}

// successFlag decodes the end-of-operation outcome, which the server emits
// as true, false, or "?" when the outcome was lost.
type successFlag struct {
	Known bool
	OK    bool
}

func (f *successFlag) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if b, ok := raw.(bool); ok {
		f.Known = true
		f.OK = b
	}
	return nil
}

// StreamEvents consumes the server's event stream until ctx is cancelled
// or the stream drops, invoking notify for every notice. The stream is a
// best-effort companion to the actual request: its loss is not an error.
func (s *Session) StreamEvents(ctx context.Context, opts StreamOptions, notify func(Notice)) error {
	resp, err := s.openStream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	inFlight := map[string]operation{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventType != "" || data.Len() > 0 {
				s.dispatchEvent(eventType, data.String(), opts, inFlight, notify)
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	// A dropped stream or cancellation ends consumption quietly.
	return nil
}

func (s *Session) openStream(ctx context.Context) (*http.Response, error) {
	if !s.hasSessionCookie() {
		if err := s.Login(ctx, false); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.realURL("/sse"), nil)
		if err != nil {
			return nil, fmt.Errorf("session: build event stream request: %w", err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := s.streamingHTTPClient().Do(req)
		if err != nil {
			return nil, fmt.Errorf("session: open event stream: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			if err := s.Login(ctx, true); err != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("session: event stream rejected: %s", strings.TrimSpace(resp.Status))
		}
		return resp, nil
	}
}

// dispatchEvent turns one server-sent event into notices. A payload this
// consumer cannot parse is skipped so that one malformed event never kills
// the stream.
func (s *Session) dispatchEvent(eventType, data string, opts StreamOptions, inFlight map[string]operation, notify func(Notice)) {
	switch eventType {
	case "heartbeat":
		return
	case "recent_history":
		if !opts.History {
			return
		}
		var ev event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Printf("[Session] WARNING: skipping malformed %s event: %v", eventType, err)
			return
		}
		notify(historyNotice(ev))
	default:
		var ev event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Printf("[Session] WARNING: skipping malformed %s event: %v", eventType, err)
			return
		}
		if n, ok := noticeFor(eventType, ev, inFlight); ok {
			notify(n)
		}
	}
}

// historyNotice renders one replayed past operation. Each recent_history
// event carries a single end-shaped payload (title, started_by, success)
// rather than the live start/end pair, so it never touches the in-flight
// map.
func historyNotice(ev event) Notice {
	level := "running"
	if ev.Success.Known {
		level = "error"
		if ev.Success.OK {
			level = "success"
		}
	}

	title := ev.Title
	if title == "" {
		title = ev.operation()
	}
	msg := fmt.Sprintf("Operation '%s'", title)
	if ev.StartedBy != "" {
		msg += fmt.Sprintf(" (started by %s)", ev.StartedBy)
	}

	return Notice{Timestamp: ev.time(), Level: level, Message: msg, History: true}
}

func noticeFor(eventType string, ev event, inFlight map[string]operation) (Notice, bool) {
	switch eventType {
	case "heartbeat":
		return Notice{}, false

	case "msg", "toast":
		level := ev.Level
		if level == "" {
			level = "info"
		}
		return Notice{Timestamp: ev.time(), Level: level, Message: ev.Msg}, true

	case "start":
		id := ev.operation()
		title := ev.Title
		if title == "" {
			title = id
		}
		if id != "" {
			inFlight[id] = operation{Title: title, StartedBy: ev.StartedBy}
		}
		msg := fmt.Sprintf("Operation '%s' started", title)
		if ev.StartedBy != "" {
			msg += " by " + ev.StartedBy
		}
		return Notice{Timestamp: ev.time(), Level: "info", Message: msg}, true

	case "end":
		id := ev.operation()
		op, tracked := inFlight[id]
		delete(inFlight, id)
		title := op.Title
		if title == "" {
			title = ev.Title
		}
		if title == "" {
			title = id
		}

		if !tracked || !ev.Success.Known {
			// The messages of this operation were never seen (or its
			// outcome was lost), all that can be reported is the bare
			// outcome.
			verb := "ended"
			if ev.Success.Known {
				verb = "failed"
				if ev.Success.OK {
					verb = "succeeded"
				}
			}
			return Notice{
				Timestamp: ev.time(),
				Level:     "warning",
				Message:   fmt.Sprintf("Operation '%s' %s (sorry, no more info available)!", title, verb),
			}, true
		}

		subject := fmt.Sprintf("Operation '%s'", title)
		if op.StartedBy != "" {
			subject += fmt.Sprintf(" (started by %s)", op.StartedBy)
		}
		if ev.Success.OK {
			return Notice{
				Timestamp: ev.time(),
				Level:     "success",
				Message:   subject + " completed",
			}, true
		}
		msg := subject + " failed"
		if ev.ErrorMsg != "" {
			msg += ": " + ev.ErrorMsg
		}
		return Notice{Timestamp: ev.time(), Level: "error", Message: msg}, true

	default:
		log.Printf("[Session] ERROR: ignoring unknown event type %q", eventType)
		return Notice{}, false
	}
}
