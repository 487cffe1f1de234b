package recognizer

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleflea/sense-voice-recognizer/model"
)

func TestNewSenseVoice_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Weights:    filepath.Join(dir, "model.int8.onnx"),
		Tokens:     filepath.Join(dir, "tokens.txt"),
		Language:   "auto",
		NumThreads: 1,
		SampleRate: 16000,
	}

	_, err := NewSenseVoice(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorIs(t, err, ErrModelLoad)
}

func TestSenseVoice_RecognizeRejectsBadInput(t *testing.T) {
	r := &SenseVoice{}

	tests := []struct {
		name    string
		input   model.AudioData
		wantErr error
	}{
		{"empty samples", model.AudioData{SampleRate: 16000, Channels: 1}, model.ErrInvalidInput},
		{"zero sample rate", model.AudioData{Samples: []float32{0.1}, Channels: 1}, model.ErrInvalidInput},
		{"stereo", model.AudioData{Samples: []float32{0.1, 0.1}, SampleRate: 16000, Channels: 2}, model.ErrInvalidInput},
		{"closed", model.AudioData{Samples: []float32{0.1}, SampleRate: 16000, Channels: 1}, ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Recognize(tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	r.Close()
}
