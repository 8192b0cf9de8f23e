// file: internal/realtime/events_test.go
// version: 2.0.0
// guid: a0b1c2d3-e4f5-6a7b-8c9d-0e1f2a3b4c5d
// last-edited: 2026-10-17

package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/fetchguard"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/jdfalk/erpcache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	client := NewClient("test-client-1")
	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if client.ID != "test-client-1" {
		t.Errorf("Expected ID 'test-client-1', got '%s'", client.ID)
	}
	if client.Channel == nil {
		t.Error("Client channel is nil")
	}
	if client.Resources == nil {
		t.Error("Client resources map is nil")
	}
}

func TestClientFilter(t *testing.T) {
	client := NewClient("c")
	books := &Event{Type: EventCacheInvalidated, Resource: "books"}
	schools := &Event{Type: EventCacheInvalidated, Resource: "schools"}
	global := &Event{Type: EventCacheFlushed}

	assert.True(t, client.Wants(books), "no filter means every event")

	client.Subscribe("books")
	assert.True(t, client.Wants(books))
	assert.False(t, client.Wants(schools))
	assert.True(t, client.Wants(global))

	client.Unsubscribe("books")
	assert.True(t, client.Wants(schools))
}

func TestBroadcast(t *testing.T) {
	hub := NewEventHub(nil)
	a := NewClient("a")
	b := NewClient("b")
	b.Subscribe("schools")
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	assert.Equal(t, 2, hub.GetClientCount())

	hub.SendCacheInvalidated("books", 3)
	assert.Len(t, a.Channel, 1)
	assert.Len(t, b.Channel, 0)

	hub.SendCacheFlushed(7, "manual")
	assert.Len(t, b.Channel, 1)
	ev := <-b.Channel
	assert.Equal(t, EventCacheFlushed, ev.Type)
	assert.Equal(t, 7, ev.Data["removed"])

	hub.UnregisterClient("a")
	hub.UnregisterClient("a")
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	hub := NewEventHub(nil)
	c := NewClient("slow")
	hub.RegisterClient(c)
	for i := 0; i < cap(c.Channel); i++ {
		hub.SendCacheFlushed(i, "manual")
	}
	assert.Equal(t, 0, hub.Broadcast(&Event{Type: EventCacheFlushed}))
}

func TestAttachSession(t *testing.T) {
	store := storage.NewMemoryStore(0)
	guard := fetchguard.New(cache.New(store))
	hook := session.NewHook(session.NewStorageCredentials(store), guard)

	hub := NewEventHub(nil)
	c := NewClient("c")
	hub.RegisterClient(c)
	detach := hub.AttachSession(hook)

	require.NoError(t, hook.Login(&oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(time.Hour)}))
	require.NoError(t, hook.Logout(""))

	require.Len(t, c.Channel, 2)
	assert.Equal(t, EventSessionLogin, (<-c.Channel).Type)
	logout := <-c.Channel
	assert.Equal(t, EventSessionLogout, logout.Type)
	assert.Equal(t, session.ReasonLogout, logout.Data["reason"])

	detach()
	require.NoError(t, hook.Login(&oauth2.Token{AccessToken: "y", Expiry: time.Now().Add(time.Hour)}))
	assert.Len(t, c.Channel, 0)
}

func TestHandleSSE(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewEventHub(nil)
	r := gin.New()
	r.GET("/events", hub.HandleSSE)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?resource=books", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() map[string]any {
		for lines.Scan() {
			line := lines.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
			return m
		}
		t.Fatal("stream ended")
		return nil
	}

	assert.Equal(t, "connection.established", next()["type"])
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.SendCacheInvalidated("schools", 1)
	hub.SendCacheInvalidated("books", 2)
	ev := next()
	assert.Equal(t, string(EventCacheInvalidated), ev["type"])
	assert.Equal(t, "books", ev["resource"])

	cancel()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
