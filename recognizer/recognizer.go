// Package recognizer wraps the SenseVoice offline model. A SenseVoice value
// must only be driven from one goroutine at a time; the task manager's
// worker is that goroutine.
package recognizer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/eleflea/sense-voice-recognizer/model"
)

var (
	ErrModelLoad = errors.New("failed to create recognizer, check the model config")
	ErrClosed    = errors.New("recognizer closed")
)

// Recognizer is the inference engine seen by the worker.
type Recognizer interface {
	Recognize(input model.AudioData) (model.Result, error)
	Close()
}

type Config struct {
	Weights    string
	Tokens     string
	Language   string
	UseITN     bool
	NumThreads int
	Provider   string
	SampleRate int
}

type SenseVoice struct {
	impl   *sherpa.OfflineRecognizer
	logger *slog.Logger
}

var _ Recognizer = (*SenseVoice)(nil)

func NewSenseVoice(cfg Config, logger *slog.Logger) (*SenseVoice, error) {
	for _, path := range []string{cfg.Weights, cfg.Tokens} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
	}

	c := sherpa.OfflineRecognizerConfig{}
	c.FeatConfig.SampleRate = cfg.SampleRate
	c.FeatConfig.FeatureDim = 80
	c.ModelConfig.SenseVoice.Model = cfg.Weights
	c.ModelConfig.SenseVoice.Language = cfg.Language
	if cfg.UseITN {
		c.ModelConfig.SenseVoice.UseInverseTextNormalization = 1
	}
	c.ModelConfig.Tokens = cfg.Tokens
	c.ModelConfig.NumThreads = cfg.NumThreads
	c.ModelConfig.Provider = cfg.Provider
	c.DecodingMethod = "greedy_search"

	logger.Info("loading model", "weights", cfg.Weights, "language", cfg.Language, "threads", cfg.NumThreads, "provider", cfg.Provider)
	begin := time.Now()
	impl := sherpa.NewOfflineRecognizer(&c)
	if impl == nil {
		return nil, ErrModelLoad
	}
	logger.Info("loading model done", "elapsed", time.Since(begin))

	return &SenseVoice{impl: impl, logger: logger}, nil
}

func (r *SenseVoice) Recognize(input model.AudioData) (model.Result, error) {
	if err := input.Validate(); err != nil {
		return model.Result{}, err
	}
	if input.Channels != 1 {
		return model.Result{}, fmt.Errorf("%w: expected mono, got %d channels", model.ErrInvalidInput, input.Channels)
	}
	if r.impl == nil {
		return model.Result{}, ErrClosed
	}

	stream := sherpa.NewOfflineStream(r.impl)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(input.SampleRate, input.Samples)
	r.impl.Decode(stream)
	res := stream.GetResult()
	if res == nil {
		return model.Result{}, errors.New("recognizer returned no result")
	}

	return model.Result{
		Text:       res.Text,
		Lang:       res.Lang,
		Emotion:    res.Emotion,
		Event:      res.Event,
		Tokens:     res.Tokens,
		Timestamps: res.Timestamps,
	}, nil
}

// Close releases the model. Call it only after the worker has stopped.
func (r *SenseVoice) Close() {
	if r.impl == nil {
		return
	}
	sherpa.DeleteOfflineRecognizer(r.impl)
	r.impl = nil
}
