package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioData_Validate(t *testing.T) {
	tests := []struct {
		name    string
		audio   AudioData
		wantErr bool
	}{
		{"valid mono", AudioData{Samples: []float32{0.1, 0.2}, SampleRate: 16000, Channels: 1}, false},
		{"zero sample rate", AudioData{Samples: []float32{0.1}, SampleRate: 0, Channels: 1}, true},
		{"no channels", AudioData{Samples: []float32{0.1}, SampleRate: 16000}, true},
		{"empty buffer", AudioData{SampleRate: 16000, Channels: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.audio.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAudioData_Seconds(t *testing.T) {
	a := AudioData{Samples: make([]float32, 32000), SampleRate: 16000, Channels: 2}
	assert.InDelta(t, 1.0, a.Seconds(), 1e-9)
	assert.Zero(t, AudioData{}.Seconds())
}

func TestNewJob(t *testing.T) {
	input := AudioData{Samples: make([]float32, 16000), SampleRate: 16000, Channels: 1}
	job := NewJob(input, 3, "zh")

	require.NotEmpty(t, job.ID)
	require.NotNil(t, job.Handle())
	assert.Equal(t, job.ID, job.Handle().ID())
	assert.Equal(t, 3, job.Priority)

	rec := job.Record()
	assert.Equal(t, StatusQueued, rec.Status)
	assert.Equal(t, "zh", rec.Language)
	assert.InDelta(t, 1.0, rec.AudioSeconds, 1e-9)

	other := NewJob(input, 0, "auto")
	assert.NotEqual(t, job.ID, other.ID)
}

func TestJobRecord_Apply(t *testing.T) {
	rec := &JobRecord{ID: "r", Status: StatusQueued}
	start := time.Now()

	rec.Apply(StatusProcessing, "", start)
	require.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.FinishedAt)

	end := start.Add(time.Second)
	rec.Apply(StatusFailed, "boom", end)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, end, *rec.FinishedAt)
	assert.Equal(t, "boom", rec.Error)
	assert.True(t, rec.Status.Terminal())
	assert.False(t, StatusQueued.Terminal())
}
