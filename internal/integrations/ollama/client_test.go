package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nyl/internal/domain"
)

func TestChatURL(t *testing.T) {
	cases := []struct {
		endpoint string
		want     string
	}{
		{"http://192.168.1.20:11434", "http://192.168.1.20:11434/api/chat"},
		{"http://192.168.1.20:11434/", "http://192.168.1.20:11434/api/chat"},
		{"  ", "http://localhost:11434/api/chat"},
		{"", "http://localhost:11434/api/chat"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.endpoint), "endpoint=%q", tc.endpoint)
	}
}

func userMessages(text string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: text}}
}

// ---------------------------------------------------------------------------
// Client.Chat
// ---------------------------------------------------------------------------

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var in chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "llama3", in.Model)
		require.False(t, in.Stream)
		require.NotNil(t, in.Options)
		require.InDelta(t, 0.2, *in.Options.Temperature, 1e-9)
		require.Equal(t, userMessages("ping"), in.Messages)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "llama3:latest",
			"created_at": "2024-05-01T10:00:00Z",
			"message": {"role": "assistant", "content": "pong"},
			"done": true
		}`))
	}))
	defer srv.Close()

	temp := 0.2
	resp, err := NewClient().Chat(context.Background(), srv.URL, "llama3", userMessages("ping"), &temp)
	require.NoError(t, err)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleAssistant, Content: "pong"}, resp.Message)
	require.Equal(t, "llama3:latest", resp.Model)
	require.NotEmpty(t, resp.ID)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), resp.CreatedAt)
}

func TestClient_Chat_OmitsOptionsWithoutTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotContains(t, string(raw), "options")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer srv.Close()

	resp, err := NewClient().Chat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil)
	require.NoError(t, err)
	require.Equal(t, "llama3", resp.Model)
	require.False(t, resp.CreatedAt.IsZero())
}

func TestClient_Chat_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient().Chat(context.Background(), srv.URL, "nope", userMessages("hi"), nil)
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusNotFound, upstream.StatusCode)
	require.Equal(t, "model 'nope' not found", upstream.Message)
	require.Contains(t, err.Error(), "404")
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	_, err := NewClient().Chat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil)
	var protoErr *domain.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Chat_MissingMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer srv.Close()

	_, err := NewClient().Chat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil)
	var protoErr *domain.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Contains(t, err.Error(), "no message")
}

func TestClient_Chat_NetworkError(t *testing.T) {
	c := NewClient(WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	_, err := c.Chat(context.Background(), "http://127.0.0.1:1", "llama3", userMessages("hi"), nil)
	var transport *domain.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	_, err := NewClient().Chat(context.Background(), "", "", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

// ---------------------------------------------------------------------------
// Client.StreamChat
// ---------------------------------------------------------------------------

func ndjsonServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.True(t, in.Stream)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			_, _ = fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
}

func TestClient_StreamChat_DeliversDeltasInOrder(t *testing.T) {
	srv := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":false}`,
		``,
		`{"message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"message":{"role":"assistant","content":"!"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
		`{"message":{"role":"assistant","content":"ignored"},"done":false}`,
	)
	defer srv.Close()

	var got []string
	err := NewClient().StreamChat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil, func(s string) {
		got = append(got, s)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo", "!"}, got)
}

func TestClient_StreamChat_CleanEOFWithoutDone(t *testing.T) {
	srv := ndjsonServer(t, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
	defer srv.Close()

	var got []string
	err := NewClient().StreamChat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil, func(s string) {
		got = append(got, s)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"partial"}, got)
}

func TestClient_StreamChat_InBandError(t *testing.T) {
	srv := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"a"},"done":false}`,
		`{"error":"out of memory"}`,
	)
	defer srv.Close()

	var got []string
	err := NewClient().StreamChat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil, func(s string) {
		got = append(got, s)
	})
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, "out of memory", upstream.Message)
	require.Equal(t, []string{"a"}, got, "partial output already delivered stands")
}

func TestClient_StreamChat_MalformedLine(t *testing.T) {
	srv := ndjsonServer(t, `{"message":`)
	defer srv.Close()

	err := NewClient().StreamChat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil, func(string) {})
	var protoErr *domain.ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestClient_StreamChat_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	called := false
	err := NewClient().StreamChat(context.Background(), srv.URL, "llama3", userMessages("hi"), nil, func(string) { called = true })
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, "boom", upstream.Body)
	require.False(t, called)
}

func TestClient_StreamChat_CancelStopsConsumption(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, `{"message":{"role":"assistant","content":"first"},"done":false}`)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := NewClient().StreamChat(ctx, srv.URL, "llama3", userMessages("hi"), nil, func(s string) {
		got = append(got, s)
		cancel()
	})
	var transport *domain.TransportError
	require.ErrorAs(t, err, &transport)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, []string{"first"}, got)
}

// ---------------------------------------------------------------------------
// ListModels / TestConnection
// ---------------------------------------------------------------------------

func TestClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","model":"llama3:latest"},{"name":"","model":"phi3"},{"name":""}]}`))
	}))
	defer srv.Close()

	models, err := NewClient().ListModels(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []domain.ModelInfo{{ID: "llama3:latest", Name: "llama3:latest"}, {ID: "phi3"}}, models)
}

func TestClient_TestConnection(t *testing.T) {
	tagsServer := func(body string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
	}
	empty := tagsServer(`{"models":[]}`)
	defer empty.Close()
	populated := tagsServer(`{"models":[{"name":"llama3"}]}`)
	defer populated.Close()

	c := NewClient()
	err := c.TestConnection(context.Background(), empty.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no models")

	require.NoError(t, c.TestConnection(context.Background(), populated.URL))
}
