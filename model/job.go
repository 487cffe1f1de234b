package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusAbandoned  JobStatus = "abandoned"
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAbandoned
}

// AudioData is a decoded PCM buffer with samples normalized to [-1, 1].
type AudioData struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Validate rejects buffers the recognizer cannot consume.
func (a AudioData) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidInput, a.SampleRate)
	}
	if a.Channels <= 0 {
		return fmt.Errorf("%w: %d channels", ErrInvalidInput, a.Channels)
	}
	if len(a.Samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidInput)
	}
	return nil
}

// Seconds is the playback length of the buffer.
func (a AudioData) Seconds() float64 {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.Channels) / float64(a.SampleRate)
}

// Result is what the recognizer produces for one utterance.
type Result struct {
	Text       string    `json:"text"`
	Lang       string    `json:"lang"`
	Emotion    string    `json:"emotion"`
	Event      string    `json:"event"`
	Tokens     []string  `json:"tokens"`
	Timestamps []float32 `json:"timestamps"`
}

// Job is a unit of recognition work. The producer owns it until Submit,
// the queue owns it while pending and the worker owns it while running.
type Job struct {
	ID         string
	Priority   int
	Language   string
	Input      AudioData
	EnqueuedAt time.Time

	handle *Handle
}

func NewJob(input AudioData, priority int, language string) *Job {
	id := uuid.NewString()
	return &Job{
		ID:         id,
		Priority:   priority,
		Language:   language,
		Input:      input,
		EnqueuedAt: time.Now(),
		handle:     newHandle(id),
	}
}

// Handle returns the caller side of the job's result slot.
func (j *Job) Handle() *Handle {
	return j.handle
}

// Release drops the audio buffer once the recognizer is done with it.
func (j *Job) Release() {
	j.Input.Samples = nil
}

// Record is the observable snapshot of a freshly queued job.
func (j *Job) Record() *JobRecord {
	return &JobRecord{
		ID:           j.ID,
		Priority:     j.Priority,
		Language:     j.Language,
		Status:       StatusQueued,
		AudioSeconds: j.Input.Seconds(),
		EnqueuedAt:   j.EnqueuedAt,
		UpdatedAt:    j.EnqueuedAt,
	}
}

// JobRecord is the lifecycle view of a job kept by the store. It never
// carries recognition output.
type JobRecord struct {
	ID           string     `json:"id"`
	Priority     int        `json:"priority"`
	Language     string     `json:"language"`
	Status       JobStatus  `json:"status"`
	AudioSeconds float64    `json:"audio_seconds"`
	Error        string     `json:"error,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Apply moves the record to status, stamping start and finish times.
func (r *JobRecord) Apply(status JobStatus, errMsg string, at time.Time) {
	r.Status = status
	r.Error = errMsg
	r.UpdatedAt = at
	switch {
	case status == StatusProcessing:
		r.StartedAt = &at
	case status.Terminal():
		r.FinishedAt = &at
	}
}
