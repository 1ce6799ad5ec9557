package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TrickeySolutions/aggregator-demo/activity"
)

func dialSocket(t *testing.T, env *testEnv, sess quoteSession) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/customer/" + sess.CustomerID + "/activity/" + sess.ActivityID + "/ws?token=" + sess.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, eventType activity.EventType) serverMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if msg.Type == eventType {
			return msg
		}
	}
}

func TestSocketGetState(t *testing.T) {
	env := newTestEnv(t)
	sess := newQuoteSession(t, env)
	conn := dialSocket(t, env, sess)

	if err := conn.WriteJSON(clientMessage{Type: "get_state"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, activity.EventStateUpdate)
	if msg.State == nil || msg.State.ID != sess.ActivityID {
		t.Fatalf("unexpected snapshot: %+v", msg.State)
	}
	if msg.State.Status != activity.StatusDraft {
		t.Errorf("status = %q", msg.State.Status)
	}
}

func TestSocketFormUpdateBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	sess := newQuoteSession(t, env)
	editor := dialSocket(t, env, sess)
	watcher := dialSocket(t, env, sess)

	// The watcher must see the editor's update without asking.
	err := editor.WriteJSON(clientMessage{
		Type: "form_update",
		FormData: activity.FormData{
			activity.SectionOrganisation: {"name": activity.String("Acme")},
		},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, watcher, activity.EventStateUpdate)
	got := msg.State.FormData[activity.SectionOrganisation]["name"]
	if !got.Equal(activity.String("Acme")) {
		t.Errorf("watcher saw name %v", got)
	}
}

func TestSocketSubmitSuccess(t *testing.T) {
	env := newTestEnv(t)
	sess := newQuoteSession(t, env)
	conn := dialSocket(t, env, sess)

	if err := conn.WriteJSON(clientMessage{Type: "submit", Token: "captcha-token"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, activity.EventSubmitSuccess)
	want := "/customer/" + sess.CustomerID + "/activity/" + sess.ActivityID + "/results"
	if msg.RedirectURL != want {
		t.Errorf("redirect = %q, want %q", msg.RedirectURL, want)
	}
}

func TestSocketUnknownMessage(t *testing.T) {
	env := newTestEnv(t)
	sess := newQuoteSession(t, env)
	conn := dialSocket(t, env, sess)

	if err := conn.WriteJSON(clientMessage{Type: "explode"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, activity.EventError)
	if msg.Message == "" {
		t.Error("error event carries no message")
	}
}
