// Package audio turns uploaded audio files into mono float PCM at the rate
// the recognizer expects.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/eleflea/sense-voice-recognizer/model"
)

var (
	ErrEmptyInput   = errors.New("audio input is empty")
	ErrDecodeFailed = errors.New("audio decode failed")
	ErrInvalidAudio = errors.New("decoded audio is invalid")
)

const wavFormatPCM = 1

// Decoder decodes WAV/PCM natively and everything else through ffmpeg.
type Decoder struct {
	FFmpegPath string
	Timeout    time.Duration
}

func NewDecoder(ffmpegPath string) *Decoder {
	return &Decoder{FFmpegPath: ffmpegPath, Timeout: 2 * time.Minute}
}

// Decode returns mono samples at targetRate. Empty input, undecodable
// input and decoders that report no samples or a zero rate all fail with
// a sentinel from this package.
func (d *Decoder) Decode(ctx context.Context, data []byte, targetRate int) (model.AudioData, error) {
	if len(data) == 0 {
		return model.AudioData{}, ErrEmptyInput
	}
	if targetRate <= 0 {
		return model.AudioData{}, fmt.Errorf("%w: target sample rate %d", ErrInvalidAudio, targetRate)
	}

	var (
		out model.AudioData
		err error
	)
	if isWAV(data) {
		out, err = decodeWAV(data)
		if err != nil && d.FFmpegPath != "" {
			out, err = d.decodeFFmpeg(ctx, data, targetRate)
		}
	} else {
		out, err = d.decodeFFmpeg(ctx, data, targetRate)
	}
	if err != nil {
		return model.AudioData{}, err
	}

	if out.SampleRate <= 0 || out.Channels <= 0 {
		return model.AudioData{}, fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidAudio, out.SampleRate, out.Channels)
	}
	out.Samples = downmix(out.Samples, out.Channels)
	out.Channels = 1
	out.Samples = resample(out.Samples, out.SampleRate, targetRate)
	out.SampleRate = targetRate

	if len(out.Samples) == 0 {
		return model.AudioData{}, fmt.Errorf("%w: no samples", ErrInvalidAudio)
	}
	return out, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func decodeWAV(data []byte) (model.AudioData, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return model.AudioData{}, fmt.Errorf("%w: wav: %v", ErrDecodeFailed, err)
	}
	if buf == nil {
		return model.AudioData{}, fmt.Errorf("%w: wav: no pcm data", ErrDecodeFailed)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return model.AudioData{}, fmt.Errorf("%w: wav format %d not supported", ErrDecodeFailed, dec.WavAudioFormat)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return model.AudioData{}, fmt.Errorf("%w: wav bit depth %d", ErrDecodeFailed, bitDepth)
	}

	samples := make([]float32, len(buf.Data))
	if bitDepth == 8 {
		for i, v := range buf.Data {
			samples[i] = float32(v-128) / 128
		}
	} else {
		scale := float32(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			samples[i] = float32(v) / scale
		}
	}

	return model.AudioData{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// decodeFFmpeg asks ffmpeg for raw little-endian float32 mono at rate.
func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte, rate int) (model.AudioData, error) {
	if d.FFmpegPath == "" {
		return model.AudioData{}, fmt.Errorf("%w: unsupported container and no ffmpeg configured", ErrDecodeFailed)
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", "pipe:0",
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-f", "f32le",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, d.FFmpegPath, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return model.AudioData{}, fmt.Errorf("%w: ffmpeg: %v | %s", ErrDecodeFailed, err, strings.TrimSpace(stderr.String()))
	}

	return model.AudioData{
		Samples:    decodeF32LE(stdout.Bytes()),
		SampleRate: rate,
		Channels:   1,
	}, nil
}

func decodeF32LE(raw []byte) []float32 {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples
}

// downmix averages interleaved channels into one.
func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// resample converts between rates with linear interpolation.
func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
