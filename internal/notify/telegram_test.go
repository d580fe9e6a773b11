package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelegramNotifySendsFormFields(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotChat = r.PostFormValue("chat_id")
		gotText = r.PostFormValue("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("bot-token", "chat-9")
	tg.apiBase = srv.URL
	if err := tg.Notify(context.Background(), "reset detected"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotPath != "/botbot-token/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotChat != "chat-9" || gotText != "reset detected" {
		t.Fatalf("form = %q/%q", gotChat, gotText)
	}
}

func TestTelegramNotifyReportsAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegram("bad-token", "chat-9")
	tg.apiBase = srv.URL
	if err := tg.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestTelegramWithoutCredentialsIsNoop(t *testing.T) {
	tg := NewTelegram("", "")
	if err := tg.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify on disabled telegram: %v", err)
	}
}
