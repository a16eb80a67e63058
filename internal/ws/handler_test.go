package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/livedesk/internal/engine"
	"github.com/ashureev/livedesk/internal/store"
	"github.com/coder/websocket"
)

func newChatServer(t *testing.T) (*httptest.Server, store.Repository) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "ws_test.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	hub := NewHub()
	eng := engine.New(repo, hub, engine.Options{})
	srv := httptest.NewServer(NewHandler(eng, hub, "", true))
	t.Cleanup(srv.Close)
	return srv, repo
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func expectEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	f := readFrame(t, ctx, conn)
	if f.Event != event {
		t.Fatalf("event = %q (data %s), want %q", f.Event, f.Data, event)
	}
	return f.Data
}

func TestHandlerFullChatFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, repo := newChatServer(t)

	// Agent connects and registers for a domain.
	agent := dial(t, ctx, srv.URL)
	expectEvent(t, ctx, agent, "connected")
	send(t, ctx, agent, "register_agent", map[string]string{
		"domain":     "shop.example",
		"agent_name": "Ada",
	})
	var status struct {
		AgentConnectionID string `json:"agent_connection_id"`
		Status            string `json:"status"`
	}
	if err := json.Unmarshal(expectEvent(t, ctx, agent, "agent_status"), &status); err != nil {
		t.Fatalf("unmarshal agent_status: %v", err)
	}
	if status.Status != "online" {
		t.Fatalf("agent_status = %+v, want online", status)
	}
	agentID := status.AgentConnectionID

	// User connects and asks for a live chat.
	user := dial(t, ctx, srv.URL)
	var hello struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.Unmarshal(expectEvent(t, ctx, user, "connected"), &hello); err != nil {
		t.Fatalf("unmarshal connected: %v", err)
	}
	send(t, ctx, user, "request_live_chat", map[string]string{
		"domain":    "shop.example",
		"user_name": "Bob",
	})

	var assigned struct {
		AgentConnectionID string `json:"agent_connection_id"`
		AgentName         string `json:"agent_name"`
		UserConnectionID  string `json:"user_connection_id"`
	}
	if err := json.Unmarshal(expectEvent(t, ctx, user, "live_chat_connected"), &assigned); err != nil {
		t.Fatalf("unmarshal live_chat_connected: %v", err)
	}
	if assigned.AgentConnectionID != agentID || assigned.AgentName != "Ada" {
		t.Fatalf("live_chat_connected = %+v, want agent %s", assigned, agentID)
	}
	userID := assigned.UserConnectionID
	if userID != hello.ConnectionID {
		t.Fatalf("assigned user id = %q, want transport id %q", userID, hello.ConnectionID)
	}

	var newChat struct {
		UserConnectionID string `json:"user_connection_id"`
		UserName         string `json:"user_name"`
	}
	if err := json.Unmarshal(expectEvent(t, ctx, agent, "new_live_chat"), &newChat); err != nil {
		t.Fatalf("unmarshal new_live_chat: %v", err)
	}
	if newChat.UserConnectionID != userID || newChat.UserName != "Bob" {
		t.Fatalf("new_live_chat = %+v", newChat)
	}

	// Messages flow both ways.
	send(t, ctx, user, "send_message", map[string]string{
		"recipient_id": agentID,
		"message":      "hello there",
	})
	var received struct {
		From    string `json:"from"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(expectEvent(t, ctx, agent, "receive_message"), &received); err != nil {
		t.Fatalf("unmarshal receive_message: %v", err)
	}
	if received.From != userID || received.Message != "hello there" {
		t.Fatalf("receive_message to agent = %+v", received)
	}

	send(t, ctx, agent, "send_message", map[string]string{
		"recipient_id": userID,
		"message":      "hi, how can I help?",
	})
	if err := json.Unmarshal(expectEvent(t, ctx, user, "receive_message"), &received); err != nil {
		t.Fatalf("unmarshal receive_message: %v", err)
	}
	if received.From != agentID || received.Message != "hi, how can I help?" {
		t.Fatalf("receive_message to user = %+v", received)
	}

	// The transcript is keyed by the user side.
	messages, err := repo.Messages(ctx, userID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 2 || messages[0].Body != "hello there" || messages[1].Body != "hi, how can I help?" {
		t.Fatalf("transcript = %+v", messages)
	}

	// The user ends the chat; both sides hear about it.
	send(t, ctx, user, "end_chat", map[string]string{})
	var ended struct {
		PartnerID string `json:"partner_id"`
	}
	if err := json.Unmarshal(expectEvent(t, ctx, user, "chat_ended"), &ended); err != nil {
		t.Fatalf("unmarshal chat_ended: %v", err)
	}
	if ended.PartnerID != agentID {
		t.Fatalf("chat_ended to user = %+v", ended)
	}
	if err := json.Unmarshal(expectEvent(t, ctx, agent, "chat_ended"), &ended); err != nil {
		t.Fatalf("unmarshal chat_ended: %v", err)
	}
	if ended.PartnerID != userID {
		t.Fatalf("chat_ended to agent = %+v", ended)
	}

	agentRecord, err := repo.GetAgent(ctx, agentID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if agentRecord.UserCount != 0 {
		t.Fatalf("user_count after end_chat = %d, want 0", agentRecord.UserCount)
	}
}

func TestHandlerRejectsMalformedFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, _ := newChatServer(t)
	client := dial(t, ctx, srv.URL)
	expectEvent(t, ctx, client, "connected")

	if err := client.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data := expectEvent(t, ctx, client, "error")
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Message == "" {
		t.Fatal("error payload has no message")
	}

	// The connection survives and keeps handling events.
	send(t, ctx, client, "register_agent", map[string]string{
		"domain":     "shop.example",
		"agent_name": "Ada",
	})
	expectEvent(t, ctx, client, "agent_status")
}

func TestHandlerRegisterAgentWithoutDomainFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, _ := newChatServer(t)
	client := dial(t, ctx, srv.URL)
	expectEvent(t, ctx, client, "connected")

	send(t, ctx, client, "register_agent", map[string]string{"agent_name": "Ada"})
	data := expectEvent(t, ctx, client, "error")
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Message != "Domain is required to register as an agent" {
		t.Fatalf("error message = %q, want the domain validation message", payload.Message)
	}
}
