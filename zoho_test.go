package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newFakeZoho(t *testing.T, desk http.HandlerFunc) *zohoClient {
	t.Helper()
	tokenCalls := 0
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/v2/token" {
			t.Errorf("unexpected accounts path: %s", r.URL.Path)
		}
		if r.FormValue("grant_type") != "refresh_token" || r.FormValue("refresh_token") != "rt-1" {
			t.Errorf("unexpected token form: %v", r.Form)
		}
		tokenCalls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("at-%d", tokenCalls),
			"expires_in":   3600,
		})
	}))
	t.Cleanup(accounts.Close)

	deskSrv := httptest.NewServer(desk)
	t.Cleanup(deskSrv.Close)

	z := &zohoClient{
		clientID:     "cid",
		clientSecret: "secret",
		refreshToken: "rt-1",
		orgID:        "org-9",
		accountsURL:  accounts.URL,
		baseURL:      deskSrv.URL,
		http:         deskSrv.Client(),
	}
	return z
}

func TestZohoListOpenTicketsPaginates(t *testing.T) {
	var seenAuth, seenOrg string
	z := newFakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenOrg = r.Header.Get("orgId")
		from := r.URL.Query().Get("from")
		if from == "0" {
			tickets := make([]zohoTicket, zohoPageSize)
			for i := range tickets {
				tickets[i] = zohoTicket{ID: fmt.Sprintf("t%d", i), Subject: "s"}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"data": tickets})
			return
		}
		// Second page is short, ending pagination.
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []zohoTicket{{ID: "last", Subject: "s"}}})
	})

	tickets, err := z.ListOpenTickets(context.Background())
	if err != nil {
		t.Fatalf("ListOpenTickets failed: %v", err)
	}
	if len(tickets) != zohoPageSize+1 {
		t.Fatalf("expected %d tickets, got %d", zohoPageSize+1, len(tickets))
	}
	if tickets[len(tickets)-1].ID != "last" {
		t.Fatalf("pages out of order: %+v", tickets[len(tickets)-1])
	}
	if seenAuth != "Zoho-oauthtoken at-1" {
		t.Fatalf("unexpected auth header: %q", seenAuth)
	}
	if seenOrg != "org-9" {
		t.Fatalf("orgId header missing, got %q", seenOrg)
	}
}

func TestZohoTokenCachedAcrossCalls(t *testing.T) {
	calls := 0
	z := newFakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []zohoTicket{}})
	})

	for i := 0; i < 3; i++ {
		if _, err := z.ListOpenTickets(context.Background()); err != nil {
			t.Fatalf("ListOpenTickets %d failed: %v", i, err)
		}
	}
	z.mu.Lock()
	token := z.accessToken
	z.mu.Unlock()
	if token != "at-1" {
		t.Fatalf("token must be cached, got %q", token)
	}
}

func TestZohoCloseTicketAsSpam(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	z := newFakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})

	if err := z.CloseTicketAsSpam(context.Background(), "t-55"); err != nil {
		t.Fatalf("CloseTicketAsSpam failed: %v", err)
	}
	if gotMethod != "PATCH" || gotPath != "/api/v1/tickets/t-55" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
	if gotBody["status"] != "Closed" || gotBody["classification"] != "Spam" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestZohoDedupKeyHelpers(t *testing.T) {
	key := zohoDedupKey("12345")
	if key != "zoho:12345" {
		t.Fatalf("unexpected key: %s", key)
	}
	if !isZohoDedupKey(key) || isZohoDedupKey("adhoc:x") {
		t.Fatalf("dedup key detection broken")
	}
	if zohoTicketIDFromDedupKey(key) != "12345" {
		t.Fatalf("unexpected ticket id: %s", zohoTicketIDFromDedupKey(key))
	}
}

func TestPollZohoTicketsIngestsAndDedups(t *testing.T) {
	hub, db, _ := newTestHub(t)
	z := newFakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []zohoTicket{
			{ID: "100", Subject: "Cancel membership", Description: "please cancel my membership", Email: "a@b.c", CreatedTime: "2026-08-20T10:00:00Z"},
			{ID: "101", Subject: "Hours", Description: "when do you open"},
		}})
	})

	result, err := PollZohoTickets(context.Background(), z, hub)
	if err != nil {
		t.Fatalf("PollZohoTickets failed: %v", err)
	}
	if result.Fetched != 2 || result.Ingested != 2 || result.Errors != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	n, err := CountInteractions(db, time.Time{})
	if err != nil {
		t.Fatalf("CountInteractions failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 interactions, got %d", n)
	}

	// Second poll sees the same tickets; nothing new is created.
	result, err = PollZohoTickets(context.Background(), z, hub)
	if err != nil {
		t.Fatalf("PollZohoTickets (repoll) failed: %v", err)
	}
	if result.Ingested != 0 || result.Skipped != 2 {
		t.Fatalf("expected repoll to skip everything, got %+v", result)
	}
}
