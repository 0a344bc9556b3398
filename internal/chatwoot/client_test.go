package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/accounts/3/conversations/42/messages" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("api_access_token") != "tok" {
			t.Fatalf("token header: %q", r.Header.Get("api_access_token"))
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["content"] != "hello" || body["message_type"] != "outgoing" || body["private"] != false {
			t.Fatalf("body: %v", body)
		}
		w.Write([]byte(`{"id":9,"content":"hello","message_type":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 3, "tok", 0)
	msg, err := c.SendMessage(context.Background(), 42, "hello")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if msg.ID != 9 || msg.MessageType != Outgoing {
		t.Fatalf("msg: %+v", msg)
	}
}

func TestSendPrivateNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["private"] != true {
			t.Fatalf("expected private note")
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	if _, err := New(srv.URL, 1, "", 0).SendPrivateNote(context.Background(), 1, "note"); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestAssignAgentAndStatus(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Fatalf("method %s", r.Method)
		}
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c := New(srv.URL, 1, "", 0)
	if err := c.AssignAgent(context.Background(), 5, 8); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := c.SetStatus(context.Background(), 5, "open"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := c.SetStatus(context.Background(), 5, "archived"); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if len(paths) != 2 || paths[0] != "/api/v1/accounts/1/conversations/5/assignments" || paths[1] != "/api/v1/accounts/1/conversations/5/update" {
		t.Fatalf("paths: %v", paths)
	}
}

func TestListMessagesShapes(t *testing.T) {
	cases := map[string]string{
		"list":   `{"meta":{},"payload":[{"id":1,"content":"hi","message_type":0,"created_at":100}]}`,
		"nested": `{"payload":{"messages":[{"id":1,"content":"hi","message_type":"incoming","created_at":"1970-01-01T00:01:40Z"}]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()
			msgs, err := New(srv.URL, 1, "", 0).ListMessages(context.Background(), 2)
			if err != nil {
				t.Fatalf("err: %v", err)
			}
			if len(msgs) != 1 || msgs[0].MessageType != Incoming || msgs[0].CreatedAt != 100 {
				t.Fatalf("msgs: %+v", msgs)
			}
		})
	}
}

func TestListMessagesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	msgs, err := New(srv.URL, 1, "", 0).ListMessages(context.Background(), 2)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("msgs=%v err=%v", msgs, err)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err := New(srv.URL, 1, "", 0).SendMessage(context.Background(), 1, "x")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected status error, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("401 should not be retryable")
	}
	if !IsRetryable(&StatusError{Code: 503}) || !IsRetryable(errors.New("dial")) {
		t.Fatalf("expected retryable")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{"payload":{"id":4,"name":" Maya "}}`))
	}))
	defer srv.Close()
	c := New(srv.URL, 1, "", 0)
	contact, err := c.GetContact(context.Background(), 4)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if contact.Name() != "Maya" {
		t.Fatalf("name: %q", contact.Name())
	}
	if err := c.UpdateContact(context.Background(), 4, map[string]any{"email": "a@b.c"}); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestSetCustomAttributes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CustomAttributes map[string]string `json:"custom_attributes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.CustomAttributes["harbor_trigger"] != "proactive" {
			t.Fatalf("attrs: %v", body.CustomAttributes)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	err := New(srv.URL, 1, "", 0).SetCustomAttributes(context.Background(), 3, map[string]string{"harbor_trigger": "proactive"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestMessageTypeDecoding(t *testing.T) {
	cases := map[string]MessageType{
		`0`:          Incoming,
		`"incoming"`: Incoming,
		`"Outgoing"`: Outgoing,
		`"1"`:        Outgoing,
		`"weird"`:    -1,
		`null`:       -1,
	}
	for raw, want := range cases {
		var got MessageType
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%s: got %d want %d", raw, got, want)
		}
	}
	if Incoming.String() != "incoming" {
		t.Fatalf("string: %s", Incoming.String())
	}
}
