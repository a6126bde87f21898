package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"markovsim/internal/markov"
)

// Notifier defaults.
const (
	DefaultTimeout          = 5 * time.Second
	DefaultMarkerHeader     = "X-Simulation"
	DefaultMaxResponseBytes = 1 << 20
	RawResponseKey          = "raw_response"
)

// NotificationError reports an agent that could not be reached or did not
// answer in time.
type NotificationError struct {
	AgentID   string
	AgentName string
	// LatencyMS is the time from sending the request until the failure.
	LatencyMS float64
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify agent %s: %v", e.AgentID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *NotificationError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Notifier sends one HTTP call per agent and state visit.
type Notifier struct {
	Client           *http.Client
	MarkerHeader     string
	MaxResponseBytes int64
	now              func() time.Time
}

// NewNotifier returns a Notifier using client, or a fresh http.Client when nil.
func NewNotifier(client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	return &Notifier{
		Client:           client,
		MarkerHeader:     DefaultMarkerHeader,
		MaxResponseBytes: DefaultMaxResponseBytes,
		now:              time.Now,
	}
}

// Notify delivers method and payload to a. The agent must be active.
// Any HTTP status counts as a response; transport errors and timeouts
// return a *NotificationError.
func (n *Notifier) Notify(ctx context.Context, a Agent, method markov.Method, payload map[string]any, timeout time.Duration) (Response, error) {
	if !a.Active {
		panic(fmt.Sprintf("agent %s is not active", a.ID))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := n.now
	if now == nil {
		now = time.Now
	}
	var start time.Time
	fail := func(err error) (Response, error) {
		ne := &NotificationError{AgentID: a.ID, AgentName: a.Name, Err: err}
		if !start.IsZero() {
			ne.LatencyMS = float64(now().Sub(start)) / float64(time.Millisecond)
		}
		return Response{}, ne
	}

	req, err := n.buildRequest(ctx, a.URL, method, payload)
	if err != nil {
		return fail(err)
	}

	start = now()
	resp, err := n.Client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	limit := n.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return fail(fmt.Errorf("read response: %w", err))
	}
	latency := now().Sub(start)

	return Response{
		AgentID:    a.ID,
		AgentName:  a.Name,
		Data:       decodeBody(body),
		HTTPStatus: resp.StatusCode,
		LatencyMS:  float64(latency) / float64(time.Millisecond),
	}, nil
}

func (n *Notifier) buildRequest(ctx context.Context, rawURL string, method markov.Method, payload map[string]any) (*http.Request, error) {
	marker := n.MarkerHeader
	if marker == "" {
		marker = DefaultMarkerHeader
	}
	if method.IsRead() {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		if err := encodeQuery(q, payload); err != nil {
			return nil, err
		}
		u.RawQuery = q.Encode()
		req, err := http.NewRequestWithContext(ctx, string(method), u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(marker, "true")
		return req, nil
	}

	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, string(method), rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(marker, "true")
	return req, nil
}

// encodeQuery flattens payload into query values. Scalars are formatted,
// lists repeat the key and nested objects are sent as JSON text.
func encodeQuery(q url.Values, payload map[string]any) error {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := payload[k].(type) {
		case []any:
			for _, e := range v {
				s, err := queryValue(e)
				if err != nil {
					return err
				}
				q.Add(k, s)
			}
		default:
			s, err := queryValue(v)
			if err != nil {
				return err
			}
			q.Set(k, s)
		}
	}
	return nil
}

func queryValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("encode query value: %w", err)
		}
		return string(b), nil
	}
}

// decodeBody returns the body as a JSON object, or wraps the raw text
// when it is not one.
func decodeBody(body []byte) map[string]any {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return map[string]any{RawResponseKey: string(body)}
	}
	return data
}
