package listener

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"markovsim/internal/agent"
	"markovsim/internal/markov"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(t *testing.T, h http.Handler, method, target, body string) Reply {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("%s %s: status %d", method, target, w.Code)
	}
	var out Reply
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestCounterCountsPerMethod(t *testing.T) {
	c := NewCounter()
	h := c.Handler()

	got := serve(t, h, http.MethodGet, "/?page=home&n=2", "")
	if got.Method != "GET" || got.Path != "/" || got.Payload["page"] != "home" || got.Payload["n"] != "2" {
		t.Fatalf("unexpected GET reply: %+v", got)
	}
	got = serve(t, h, http.MethodPost, "/hook", `{"sku":7}`)
	if got.Path != "/hook" || got.Payload["sku"] != float64(7) {
		t.Fatalf("unexpected POST reply: %+v", got)
	}
	serve(t, h, http.MethodPatch, "/", "not json")
	got = serve(t, h, http.MethodDelete, "/", "")

	want := map[string]int{"GET": 1, "POST": 1, "PUT": 0, "DELETE": 1, "PATCH": 1, "total": 4}
	for k, v := range want {
		if got.Counters[k] != v {
			t.Fatalf("counter %s = %d, want %d (%v)", k, got.Counters[k], v, got.Counters)
		}
	}
}

func TestCounterReset(t *testing.T) {
	c := NewCounter()
	h := c.Handler()
	serve(t, h, http.MethodPut, "/", `{}`)
	if c.Snapshot()["PUT"] != 1 {
		t.Fatalf("PUT not counted")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reset", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("reset status %d", w.Code)
	}
	if c.Snapshot()[TotalKey] != 0 {
		t.Fatalf("counters not reset: %v", c.Snapshot())
	}
}

func TestCounterAnswersNotifier(t *testing.T) {
	c := NewCounter()
	ts := httptest.NewServer(c.Handler())
	defer ts.Close()

	n := agent.NewNotifier(nil)
	a := agent.Agent{ID: "a1", Name: "counter", URL: ts.URL, Active: true}
	resp, err := n.Notify(context.Background(), a, markov.MethodPost, map[string]any{"item": "book"}, time.Second)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if resp.HTTPStatus != http.StatusOK || resp.Data["method"] != "POST" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	counters, ok := resp.Data["counters"].(map[string]any)
	if !ok || counters["POST"] != float64(1) {
		t.Fatalf("counters missing from response: %+v", resp.Data)
	}
}
