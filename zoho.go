package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const zohoDedupPrefix = "zoho:"
const zohoPageSize = 50
const zohoMaxPages = 20
const zohoRateLimitWait = 30 * time.Second

func zohoDedupKey(ticketID string) string {
	return zohoDedupPrefix + ticketID
}

func isZohoDedupKey(key string) bool {
	return strings.HasPrefix(key, zohoDedupPrefix)
}

func zohoTicketIDFromDedupKey(key string) string {
	return strings.TrimPrefix(key, zohoDedupPrefix)
}

// zohoClient talks to Zoho Desk with the self-client OAuth flow: the
// long-lived refresh token is exchanged for a short-lived access token,
// cached until shortly before expiry.
type zohoClient struct {
	clientID     string
	clientSecret string
	refreshToken string
	orgID        string
	accountsURL  string
	baseURL      string
	http         *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func newZohoClient(cfg Config) *zohoClient {
	return &zohoClient{
		clientID:     cfg.ZohoClientID,
		clientSecret: cfg.ZohoClientSecret,
		refreshToken: cfg.ZohoRefreshToken,
		orgID:        cfg.ZohoOrgID,
		accountsURL:  "https://accounts.zoho.com",
		baseURL:      "https://desk.zoho.com",
		http:         externalHTTPClient,
	}
}

func (z *zohoClient) token(ctx context.Context) (string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.accessToken != "" && time.Now().Before(z.tokenExpiry) {
		return z.accessToken, nil
	}

	form := url.Values{
		"refresh_token": {z.refreshToken},
		"client_id":     {z.clientID},
		"client_secret": {z.clientSecret},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", z.accountsURL+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := z.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("Zoho token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if parsed.Error != "" || parsed.AccessToken == "" {
		return "", fmt.Errorf("Zoho token exchange failed: %s (status %d)", parsed.Error, resp.StatusCode)
	}

	z.accessToken = parsed.AccessToken
	expiresIn := parsed.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	// Refresh a minute early so in-flight requests never carry a stale token.
	z.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)
	log.Printf("zoho token refreshed expires_in=%ds", expiresIn)
	return z.accessToken, nil
}

type zohoTicket struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Channel     string `json:"channel"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CreatedTime string `json:"createdTime"`
}

// do performs an authorized Desk API call, waiting out a single rate
// limit hit before giving up.
func (z *zohoClient) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	for attempt := 0; ; attempt++ {
		token, err := z.token(ctx)
		if err != nil {
			return nil, 0, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, z.baseURL+path, reader)
		if err != nil {
			return nil, 0, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
		if z.orgID != "" {
			req.Header.Set("orgId", z.orgID)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := z.http.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("Zoho Desk request: %w", err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, fmt.Errorf("reading response: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			log.Printf("zoho rate limited, waiting %s", zohoRateLimitWait)
			select {
			case <-time.After(zohoRateLimitWait):
				continue
			case <-ctx.Done():
				return nil, resp.StatusCode, ctx.Err()
			}
		}
		return respBody, resp.StatusCode, nil
	}
}

// ListOpenTickets pages through open Desk tickets. Zoho returns 204 with
// an empty body when a page is past the end.
func (z *zohoClient) ListOpenTickets(ctx context.Context) ([]zohoTicket, error) {
	var all []zohoTicket
	for page := 0; page < zohoMaxPages; page++ {
		path := fmt.Sprintf("/api/v1/tickets?status=Open&from=%d&limit=%d&sortBy=createdTime",
			page*zohoPageSize, zohoPageSize)
		body, status, err := z.do(ctx, "GET", path, nil)
		if err != nil {
			return all, err
		}
		if status == http.StatusNoContent {
			break
		}
		if status != http.StatusOK {
			return all, fmt.Errorf("Zoho Desk list tickets: status %d: %s", status, truncateForLog(string(body)))
		}

		var parsed struct {
			Data []zohoTicket `json:"data"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return all, fmt.Errorf("parsing ticket list: %w", err)
		}
		all = append(all, parsed.Data...)
		if len(parsed.Data) < zohoPageSize {
			break
		}
	}
	return all, nil
}

// CloseTicketAsSpam marks the upstream ticket spam and closes it, the
// suppression instruction for Zoho-sourced interactions.
func (z *zohoClient) CloseTicketAsSpam(ctx context.Context, ticketID string) error {
	payload, err := json.Marshal(map[string]string{
		"status":         "Closed",
		"classification": "Spam",
	})
	if err != nil {
		return fmt.Errorf("marshaling ticket update: %w", err)
	}
	body, status, err := z.do(ctx, "PATCH", "/api/v1/tickets/"+ticketID, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("Zoho Desk close ticket %s: status %d: %s", ticketID, status, truncateForLog(string(body)))
	}
	log.Printf("zoho ticket closed as spam id=%s", ticketID)
	return nil
}

// ZohoPollResult summarizes one polling run.
type ZohoPollResult struct {
	Fetched  int
	Ingested int
	Skipped  int
	Errors   int
}

// PollZohoTickets ingests open Desk tickets through the hub. Dedup keys
// are derived from the ticket id, so re-polling the same tickets is a
// no-op.
func PollZohoTickets(ctx context.Context, z *zohoClient, hub *Hub) (ZohoPollResult, error) {
	var result ZohoPollResult

	tickets, err := z.ListOpenTickets(ctx)
	result.Fetched = len(tickets)
	if err != nil {
		return result, fmt.Errorf("listing Zoho tickets: %w", err)
	}

	for _, ticket := range tickets {
		payload, marshalErr := json.Marshal(map[string]string{
			"subject":     ticket.Subject,
			"description": ticket.Description,
		})
		if marshalErr != nil {
			result.Errors++
			continue
		}

		receivedAt := time.Now().UTC()
		if ticket.CreatedTime != "" {
			if parsed, perr := time.Parse(time.RFC3339, ticket.CreatedTime); perr == nil {
				receivedAt = parsed
			}
		}

		actorHint := ""
		if ticket.Email != "" {
			actorHint = "email:" + ticket.Email
		} else if ticket.Phone != "" {
			actorHint = "phone:" + ticket.Phone
		}

		id, created, ingestErr := hub.Ingest(ctx, ChannelTicket, string(payload), receivedAt, actorHint, zohoDedupKey(ticket.ID))
		if ingestErr != nil {
			log.Printf("zoho ingest error ticket=%s interaction=%s err=%v", ticket.ID, id, ingestErr)
			result.Errors++
			continue
		}
		if !created {
			result.Skipped++
			continue
		}
		result.Ingested++
	}

	log.Printf("zoho poll fetched=%d ingested=%d skipped=%d errors=%d",
		result.Fetched, result.Ingested, result.Skipped, result.Errors)
	return result, nil
}

func truncateForLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
