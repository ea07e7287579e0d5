package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresidioClient_Detect(t *testing.T) {
	var gotReq analyzeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		results := []analyzeResult{
			{EntityType: "PERSON", Start: 0, End: 4, Score: 0.85},
			{EntityType: "LOCATION", Start: 14, End: 20, Score: 0.3},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(results))
	}))
	defer server.Close()

	client := NewPresidioClient(PresidioConfig{
		AnalyzerURL:    server.URL,
		ScoreThreshold: 0.5,
	}, nil)

	spans, err := client.Detect(context.Background(), "Eric lives in Zurich", "en")
	require.NoError(t, err)

	assert.Equal(t, "Eric lives in Zurich", gotReq.Text)
	assert.Equal(t, "en", gotReq.Language)
	assert.Equal(t, DefaultEntities, gotReq.Entities)

	// The LOCATION hit is below the threshold.
	require.Len(t, spans, 1)
	assert.Equal(t, "PERSON", spans[0].Type)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, 4, spans[0].End)
	assert.True(t, spans[0].Scored)
	assert.InDelta(t, 0.85, spans[0].Score, 1e-9)
}

func TestPresidioClient_DefaultsLanguage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en", req.Language)
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	client := NewPresidioClient(PresidioConfig{AnalyzerURL: server.URL}, nil)
	spans, err := client.Detect(context.Background(), "anything", "")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestPresidioClient_AnalyzerErrorSurfacesAsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "analyzer overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewPresidioClient(PresidioConfig{AnalyzerURL: server.URL}, nil)
	_, err := client.Detect(context.Background(), "text", "en")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable), "expected ErrUnavailable, got %v", err)
}

func TestPresidioClient_ConnectionRefused(t *testing.T) {
	client := NewPresidioClient(PresidioConfig{AnalyzerURL: "http://127.0.0.1:1/analyze"}, nil)
	_, err := client.Detect(context.Background(), "text", "en")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable), "expected ErrUnavailable, got %v", err)
}

func TestPresidioClient_EmptyTextShortCircuits(t *testing.T) {
	client := NewPresidioClient(PresidioConfig{AnalyzerURL: "http://unused.invalid"}, nil)
	spans, err := client.Detect(context.Background(), "", "en")
	require.NoError(t, err)
	assert.Nil(t, spans)
}
