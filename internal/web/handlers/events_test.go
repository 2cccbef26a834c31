package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postEvent(t *testing.T, h *EventHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleMessageEvent(rec, req)
	return rec
}

func TestHandleMessageEvent(t *testing.T) {
	jobs := &stubJobStore{}
	h := NewEventHandler(newTestService(jobs, newStubActionStore()), 0)

	rec := postEvent(t, h, `{
		"account_id": "acct-1",
		"message_id": "msg-1",
		"sender": "alice@example.com",
		"subject": "hello",
		"headers": {"List-Id": "dev.example.com"},
		"labels": ["INBOX"],
		"unread": true,
		"in_inbox": true
	}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		OK    bool   `json:"ok"`
		JobID string `json:"job_id"`
	}
	if err := decodeBody(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || resp.JobID == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(jobs.enqueued) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.enqueued))
	}
}

func TestHandleMessageEventRedeliveryDedupes(t *testing.T) {
	jobs := &stubJobStore{}
	h := NewEventHandler(newTestService(jobs, newStubActionStore()), 0)
	body := `{"account_id":"acct-1","message_id":"msg-1","sender":"a@b.c","subject":"s"}`

	first := postEvent(t, h, body)
	second := postEvent(t, h, body)
	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("statuses = %d, %d", first.Code, second.Code)
	}
	if len(jobs.enqueued) != 1 {
		t.Errorf("redelivery created a second job: %d", len(jobs.enqueued))
	}
}

func TestHandleMessageEventValidation(t *testing.T) {
	h := NewEventHandler(newTestService(&stubJobStore{}, newStubActionStore()), 0)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing account", `{"message_id":"msg-1"}`, http.StatusBadRequest},
		{"missing message", `{"account_id":"acct-1"}`, http.StatusBadRequest},
		{"whitespace ids", `{"account_id":"  ","message_id":"msg-1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postEvent(t, h, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleMessageEventBodyLimit(t *testing.T) {
	h := NewEventHandler(newTestService(&stubJobStore{}, newStubActionStore()), 64)
	rec := postEvent(t, h, `{"account_id":"acct-1","message_id":"msg-1","subject":"`+strings.Repeat("x", 200)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}
