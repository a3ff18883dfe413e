package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"io.eduverse/notifysync/internal/config"
	"io.eduverse/notifysync/internal/domain"
)

func TestRenderList(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	items := []domain.Notification{
		{ID: "n-2", Type: domain.TypeComment, Message: "Thu commented on your answer", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "n-1", Type: domain.TypeSubscriptionEnd, Message: "Your plan ended", IsRead: true, CreatedAt: now.Add(-72 * time.Hour)},
	}

	var buf bytes.Buffer
	renderList(&buf, items, now)
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "●")
	assert.Contains(t, lines[0], "New comment")
	assert.Contains(t, lines[0], "Thu commented on your answer")
	assert.Contains(t, lines[0], "2 hours ago")
	assert.Contains(t, lines[1], "n-2")
	assert.NotContains(t, lines[2], "●")
	assert.Contains(t, lines[2], "3 days ago")
}

func TestRenderList_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderList(&buf, nil, time.Now())
	assert.Contains(t, buf.String(), "No notifications.")
}

func TestReadToken_Piped(t *testing.T) {
	raw, err := readToken(strings.NewReader("  eyJhbGciOi.x.y\n"))
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi.x.y", raw)

	_, err = readToken(strings.NewReader("\n"))
	assert.Error(t, err)
}

func TestNotifyAgent_SendsBridgeSecret(t *testing.T) {
	var gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	prev := cfg
	cfg = &config.Config{Bridge: config.BridgeConfig{Enabled: true, Host: host, Port: port, Secret: "s3cret"}}
	t.Cleanup(func() { cfg = prev })

	assert.True(t, notifyAgent(context.Background(), http.MethodDelete, "/session", nil))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "Bearer s3cret", gotAuth)
}

func TestNotifyAgent_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	prev := cfg
	cfg = &config.Config{Bridge: config.BridgeConfig{Enabled: true, Host: host, Port: port, Secret: "old"}}
	t.Cleanup(func() { cfg = prev })

	assert.False(t, notifyAgent(context.Background(), http.MethodDelete, "/session", nil))
}
