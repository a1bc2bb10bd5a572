package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// receivedChat is what the fake endpoint saw in one request.
type receivedChat struct {
	auth string
	req  chatRequest
}

// TestChatClientComplete checks the happy path: auth header, request
// shape and trimmed reply.
func TestChatClientComplete(t *testing.T) {
	t.Parallel()

	reqCh := make(chan receivedChat, 1)
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			var got receivedChat
			got.auth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&got.req)
			reqCh <- got

			fmt.Fprint(w, `{"choices":[{"message":`+
				`{"role":"assistant",`+
				`"content":"  All systems go.  "}}]}`)
		},
	))
	defer srv.Close()

	client := NewChatClient(ChatCredentials{
		APIKey: "sk-test",
		Model:  "test-model",
		URL:    srv.URL,
	})

	reply, err := client.Complete(context.Background(), "status?")
	require.NoError(t, err)
	require.Equal(t, "All systems go.", reply)

	got := <-reqCh
	require.Equal(t, "Bearer sk-test", got.auth)
	require.Equal(t, "test-model", got.req.Model)
	require.Len(t, got.req.Messages, 1)
	require.Equal(t, "user", got.req.Messages[0].Role)
	require.Equal(t, "status?", got.req.Messages[0].Content)
}

// TestChatClientAPIError checks that a structured API error surfaces
// with its message.
func TestChatClientAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":`+
				`"invalid api key","type":"auth"}}`)
		},
	))
	defer srv.Close()

	client := NewChatClient(ChatCredentials{
		APIKey: "sk-bad",
		URL:    srv.URL,
	})

	_, err := client.Complete(context.Background(), "hello")
	require.ErrorContains(t, err, "invalid api key")
}

// TestChatClientNoChoices checks the empty result case.
func TestChatClientNoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices":[]}`)
		},
	))
	defer srv.Close()

	client := NewChatClient(ChatCredentials{
		APIKey: "sk-test",
		URL:    srv.URL,
	})

	_, err := client.Complete(context.Background(), "hello")
	require.ErrorContains(t, err, "no choices")
}

// TestChatClientNoKey checks that completions are refused without
// credentials.
func TestChatClientNoKey(t *testing.T) {
	t.Parallel()

	client := NewChatClient(ChatCredentials{})
	_, err := client.Complete(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoAPIKey)
}

// TestChatClientDefaults checks that empty credential fields fall back
// to the package defaults.
func TestChatClientDefaults(t *testing.T) {
	t.Parallel()

	client := NewChatClient(ChatCredentials{APIKey: "sk-test"})

	require.Equal(t, DefaultChatModel, client.creds.Model)
	require.Equal(t, DefaultChatURL, client.creds.URL)
	require.Equal(t, DefaultChatTimeout, client.creds.Timeout)
}
