package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eleflea/sense-voice-recognizer/model"
)

const (
	msgBusy         = "Server is busy, please try again later."
	msgShuttingDown = "Server is shutting down, please try again later."
	msgMissingFile  = "Missing 'file' field."
	msgBadAudio     = "Failed to read audio file."
	msgBadPriority  = "Invalid 'priority' field."
	msgTimeout      = "Timeout while processing"
	msgFailed       = "Recognition failed."
)

// Decoder turns an uploaded file into recognizer input.
type Decoder interface {
	Decode(ctx context.Context, data []byte, targetRate int) (model.AudioData, error)
}

// Scheduler is the task manager as seen by request handlers.
type Scheduler interface {
	SubmitJob(job *model.Job) *model.Handle
	TrySubmit(job *model.Job, limit int) (*model.Handle, error)
	QueueSize() int
}

// Metrics records request-side outcomes.
type Metrics interface {
	RequestRejected(reason string)
	WaitTimedOut()
	ObserveRTF(rtf float64)
}

type ASRConfig struct {
	MaxQueueCapacity  int
	MaxProcessingTime time.Duration
	ResampleRate      int
	StrictAdmission   bool
	MaxUploadBytes    int64
}

type ASRHandler struct {
	scheduler Scheduler
	decoder   Decoder
	metrics   Metrics
	cfg       ASRConfig
	logger    *slog.Logger
}

func NewASRHandler(scheduler Scheduler, decoder Decoder, metrics Metrics, cfg ASRConfig, logger *slog.Logger) *ASRHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ASRHandler{
		scheduler: scheduler,
		decoder:   decoder,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// recognizeForm holds the non-file multipart fields of POST /asr.
type recognizeForm struct {
	Language string `form:"language"`
	Priority int    `form:"priority"`
}

type recognizeResponse struct {
	model.Result
	JobID    string  `json:"job_id"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Elapsed  float64 `json:"elapsed"`
	RTF      float64 `json:"rtf"`
}

// Recognize handles POST /asr. The queue depth is read before the upload is
// parsed so that an overloaded server rejects cheaply. With the default
// policy the check and the enqueue are separate steps, so concurrent
// requests may briefly push the queue past MaxQueueCapacity; strict
// admission closes that gap with TrySubmit after decoding.
func (h *ASRHandler) Recognize(c *gin.Context) {
	begin := time.Now()

	if h.scheduler.QueueSize() >= h.cfg.MaxQueueCapacity {
		h.metrics.RequestRejected("capacity")
		c.String(http.StatusServiceUnavailable, msgBusy)
		return
	}

	if h.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		h.metrics.RequestRejected("bad_request")
		c.String(http.StatusBadRequest, "Multipart parse error: "+err.Error())
		return
	}

	var fields recognizeForm
	if err := c.ShouldBind(&fields); err != nil {
		h.metrics.RequestRejected("bad_request")
		c.String(http.StatusBadRequest, msgBadPriority)
		return
	}
	language := fields.Language
	if language == "" {
		language = "auto"
	}
	priority := fields.Priority

	data, err := readFile(form, "file")
	if err != nil || len(data) == 0 {
		h.metrics.RequestRejected("bad_request")
		c.String(http.StatusBadRequest, msgMissingFile)
		return
	}

	wave, err := h.decoder.Decode(c.Request.Context(), data, h.cfg.ResampleRate)
	if err == nil {
		err = wave.Validate()
	}
	if err != nil {
		h.logger.Warn("audio decode failed", "error", err, "bytes", len(data))
		h.metrics.RequestRejected("decode")
		c.String(http.StatusBadRequest, msgBadAudio)
		return
	}

	job := model.NewJob(wave, priority, language)
	handle := h.submit(job)
	if handle == nil {
		// counted by the task manager
		c.String(http.StatusServiceUnavailable, msgBusy)
		return
	}

	result, err := handle.WaitTimeout(h.cfg.MaxProcessingTime)
	if err != nil {
		h.writeWaitError(c, job.ID, err)
		return
	}

	elapsed := time.Since(begin).Seconds()
	duration := wave.Seconds()
	rtf := 0.0
	if elapsed > 0 {
		rtf = duration / elapsed
	}
	h.metrics.ObserveRTF(rtf)
	h.logger.Info("recognized",
		"job_id", job.ID,
		"priority", priority,
		"duration", duration,
		"elapsed", elapsed,
		"rtf", rtf,
	)

	c.JSON(http.StatusOK, recognizeResponse{
		Result:   result,
		JobID:    job.ID,
		Language: language,
		Duration: duration,
		Elapsed:  elapsed,
		RTF:      rtf,
	})
}

// submit returns nil when strict admission refuses the job.
func (h *ASRHandler) submit(job *model.Job) *model.Handle {
	if !h.cfg.StrictAdmission {
		return h.scheduler.SubmitJob(job)
	}
	handle, err := h.scheduler.TrySubmit(job, h.cfg.MaxQueueCapacity)
	if err != nil {
		return nil
	}
	return handle
}

func (h *ASRHandler) writeWaitError(c *gin.Context, jobID string, err error) {
	var pe *model.ProcessingError
	switch {
	case errors.Is(err, model.ErrTimeout):
		h.metrics.WaitTimedOut()
		h.logger.Warn("gave up waiting for job", "job_id", jobID, "timeout", h.cfg.MaxProcessingTime)
		c.String(http.StatusGatewayTimeout, msgTimeout)
	case errors.Is(err, model.ErrAbandoned):
		c.String(http.StatusServiceUnavailable, msgShuttingDown)
	case errors.As(err, &pe):
		c.String(http.StatusInternalServerError, msgFailed)
	default:
		h.logger.Error("unexpected wait error", "job_id", jobID, "error", err)
		c.String(http.StatusInternalServerError, msgFailed)
	}
}

// Health handles GET /health.
func (h *ASRHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"queue_size": h.scheduler.QueueSize(),
	})
}

func readFile(form *multipart.Form, key string) ([]byte, error) {
	files := form.File[key]
	if len(files) == 0 {
		return nil, fmt.Errorf("missing %q", key)
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type nopMetrics struct{}

func (nopMetrics) RequestRejected(string) {}

func (nopMetrics) WaitTimedOut() {}

func (nopMetrics) ObserveRTF(float64) {}
