package asr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-mentor/api/internal/llm"
)

func TestNormalizeMathSpeech(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"X squared plus 2 x equals 0", "x^2 + 2 x = 0"},
		{"square root of 16 divided by 4", "sqrt(16 / 4"},
		{"two raised to the power of n", "two^ n"},
		{"sine of pi over 2", "sin(π over 2"},
		{"limit as x goes to infinity", "limit as x goes to ∞"},
		{"pizza costs 5 times 3", "pizza costs 5 * 3"},
		{"natural log of e", "ln(e"},
		{"a cubed minus b cubed", "a^3 - b^3"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMathSpeech(tt.in))
		})
	}
}

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-large-v3", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		assert.Equal(t, "OggS-audio", string(b))
		assert.Equal(t, "voice.ogg", hdr.Filename)
		_, _ = w.Write([]byte(`{"text":" x squared equals four ","segments":[{"avg_logprob":-0.2},{"avg_logprob":-0.4}]}`))
	}))
	defer srv.Close()

	res, err := NewWhisper("k", "whisper-large-v3", srv.URL+"/").Transcribe(context.Background(), []byte("OggS-audio"), "")
	require.NoError(t, err)
	assert.Equal(t, "x squared equals four", res.Text)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
}

func TestWhisper_Errors(t *testing.T) {
	_, err := NewWhisper("", "m", "http://x").Transcribe(context.Background(), []byte("a"), "a.ogg")
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)

	_, err = NewWhisper("k", "m", "http://x").Transcribe(context.Background(), nil, "a.ogg")
	assert.ErrorIs(t, err, ErrEmptyAudio)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()
	_, err = NewWhisper("k", "m", srv.URL).Transcribe(context.Background(), []byte("a"), "a.ogg")
	assert.ErrorContains(t, err, "whisper 413")
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, confidence("", verboseJSON{}))
	assert.Equal(t, 0.6, confidence("hi", verboseJSON{}))
	v := verboseJSON{}
	v.Segments = append(v.Segments, struct {
		AvgLogprob float64 `json:"avg_logprob"`
	}{AvgLogprob: -3})
	assert.Equal(t, 0.0, confidence("hi", v))
}

func TestNeedsReview(t *testing.T) {
	assert.True(t, NeedsReview(Result{Text: "x", Confidence: 0.69}, 0.7))
	assert.False(t, NeedsReview(Result{Text: "x", Confidence: 0.7}, 0.7))
	assert.True(t, NeedsReview(Result{}, 0.7))
}
