package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateReturnsServiceResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/translate", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req["text"])
		assert.Equal(t, "es", req["target_lang"])

		json.NewEncoder(w).Encode(map[string]string{"translation": "hola"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	assert.Equal(t, "hola", client.Translate(context.Background(), "hello", "es"))
}

func TestTranslateFallsBackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	assert.Equal(t, "hello", client.Translate(context.Background(), "hello", "es"))
}

func TestTranslateFallsBackOnUnreachableService(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, nil)
	assert.Equal(t, "hello", client.Translate(context.Background(), "hello", "es"))
}

func TestTranslateFallsBackOnEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	assert.Equal(t, "hello", client.Translate(context.Background(), "hello", "es"))
}

func TestConceptsUnavailableYieldsNothing(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, nil)
	assert.Nil(t, client.Concepts(context.Background(), "some transcript"))
}

func TestConceptsReturnsExtractedList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"concepts": {"recursion", "base case"}})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	assert.Equal(t, []string{"recursion", "base case"}, client.Concepts(context.Background(), "..."))
}

func TestEnhanceNotesSlowServiceReturnsOriginal(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, 50*time.Millisecond, nil)
	assert.Equal(t, "raw notes", client.EnhanceNotes(context.Background(), "raw notes"))
}
