package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClickUpCreateTask(t *testing.T) {
	var gotPath, gotAuth string
	var gotTask clickupTaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotTask)
		w.Write([]byte(`{"id":"task-1"}`))
	}))
	t.Cleanup(srv.Close)

	c := &clickupClient{token: "tok-1", listID: "list-9", baseURL: srv.URL, http: srv.Client()}
	in := Interaction{
		ID:             "int-1",
		SourceChannel:  ChannelTicket,
		NormalizedText: "I want a refund for the double charge",
		ReceivedAt:     time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
	meta := map[string]string{"ticket_type": "refund", "priority": "high", "reason": "threshold_met"}

	if err := c.CreateTask(context.Background(), in, "billing-queue", meta); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if gotPath != "/api/v2/list/list-9/task" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "tok-1" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotTask.Name != "I want a refund for the double charge" {
		t.Fatalf("unexpected task name: %q", gotTask.Name)
	}
	if gotTask.Priority != 2 {
		t.Fatalf("expected ClickUp priority 2 for high, got %d", gotTask.Priority)
	}
	if len(gotTask.Tags) != 2 || gotTask.Tags[0] != "billing-queue" || gotTask.Tags[1] != "refund" {
		t.Fatalf("unexpected tags: %v", gotTask.Tags)
	}
	if !strings.Contains(gotTask.Description, "int-1") || !strings.Contains(gotTask.Description, "reason: threshold_met") {
		t.Fatalf("description missing metadata:\n%s", gotTask.Description)
	}
}

func TestClickUpCreateTaskTruncatesTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var task clickupTaskRequest
		json.NewDecoder(r.Body).Decode(&task)
		if len(task.Name) > clickupTitleLimit+3 {
			t.Errorf("title not truncated: %d chars", len(task.Name))
		}
		w.Write([]byte(`{"id":"task-1"}`))
	}))
	t.Cleanup(srv.Close)

	c := &clickupClient{token: "tok", listID: "l", baseURL: srv.URL, http: srv.Client()}
	in := Interaction{ID: "int-2", NormalizedText: strings.Repeat("very long text ", 30)}
	if err := c.CreateTask(context.Background(), in, "general", nil); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
}

func TestClickUpCreateTaskErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"err":"Token invalid"}`))
	}))
	t.Cleanup(srv.Close)

	c := &clickupClient{token: "bad", listID: "l", baseURL: srv.URL, http: srv.Client()}
	err := c.CreateTask(context.Background(), Interaction{ID: "i", NormalizedText: "x"}, "general", nil)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected status error, got %v", err)
	}
}
