//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type cfg struct {
	APIBase    string // http://localhost:8080
	Brokers    []string
	Topic      string
	WaitEvent  time.Duration
	WaitHealth time.Duration
}

func loadCfg() cfg {
	c := cfg{
		APIBase:    getenv("E2E_API_BASE", "http://localhost:8080"),
		Topic:      getenv("E2E_TOPIC", "auth.accounts"),
		WaitEvent:  mustParseDur(getenv("E2E_WAIT_EVENT", "30s")),
		WaitHealth: mustParseDur(getenv("E2E_WAIT_HEALTH", "60s")),
	}
	if b := os.Getenv("E2E_KAFKA_BROKERS"); b != "" {
		c.Brokers = strings.Split(b, ",")
	}
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustParseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type me struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type accountEvent struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}

func do(t *testing.T, method, url string, in any, bearer string, wantStatus int, out any) {
	t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	require.Equal(t, wantStatus, resp.StatusCode, "%s %s: %s", method, url, string(raw))
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
}

func waitHealthy(t *testing.T, c cfg) {
	t.Helper()
	deadline := time.Now().Add(c.WaitHealth)
	for time.Now().Before(deadline) {
		resp, err := http.Get(c.APIBase + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("authd not healthy at %s", c.APIBase)
}

func Test_RegisterLoginRefresh(t *testing.T) {
	c := loadCfg()
	waitHealthy(t, c)

	email := fmt.Sprintf("e2e_%d@authd.dev", time.Now().UnixNano())
	creds := map[string]string{"email": email, "password": "P@ssw0rd!"}

	do(t, http.MethodPost, c.APIBase+"/register", creds, "", http.StatusCreated, nil)
	do(t, http.MethodPost, c.APIBase+"/register", creds, "", http.StatusConflict, nil)

	var pair tokenPair
	do(t, http.MethodPost, c.APIBase+"/login", creds, "", http.StatusOK, &pair)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	var who me
	do(t, http.MethodGet, c.APIBase+"/me", nil, pair.AccessToken, http.StatusOK, &who)
	require.Equal(t, email, who.Email)

	do(t, http.MethodGet, c.APIBase+"/me", nil, pair.RefreshToken, http.StatusUnauthorized, nil)

	var refreshed struct {
		AccessToken string `json:"access_token"`
	}
	do(t, http.MethodPost, c.APIBase+"/refresh", nil, pair.RefreshToken, http.StatusOK, &refreshed)
	do(t, http.MethodGet, c.APIBase+"/me", nil, refreshed.AccessToken, http.StatusOK, &who)
	require.Equal(t, email, who.Email)

	do(t, http.MethodPost, c.APIBase+"/logout", nil, "", http.StatusOK, nil)

	if len(c.Brokers) == 0 {
		t.Log("E2E_KAFKA_BROKERS not set; skipping event check")
		return
	}
	waitAccountEvent(t, c, who.ID, email)
}

func waitAccountEvent(t *testing.T, c cfg, accountID, email string) {
	t.Helper()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.Brokers,
		Topic:       c.Topic,
		GroupID:     fmt.Sprintf("e2e-%d", time.Now().UnixNano()),
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.WaitEvent)
	defer cancel()

	for {
		msg, err := r.ReadMessage(ctx)
		require.NoError(t, err, "account.registered for %s did not arrive in time", email)
		if string(msg.Key) != accountID {
			continue
		}
		var ev accountEvent
		require.NoError(t, json.Unmarshal(msg.Value, &ev))
		require.Equal(t, "account.registered", ev.Type)
		require.Equal(t, email, ev.Email)
		return
	}
}
