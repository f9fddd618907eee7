package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"voiceloop/internal/ports"
)

// SpectrumConfig mirrors the knobs of a browser analyser node.
type SpectrumConfig struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// DefaultSpectrumConfig matches the analyser the silence threshold was tuned against.
func DefaultSpectrumConfig() SpectrumConfig {
	return SpectrumConfig{
		FFTSize:     512,
		Smoothing:   0.3,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// SpectrumMeters creates a SpectrumAnalyzer per capture session.
type SpectrumMeters struct {
	Config SpectrumConfig
}

func (m SpectrumMeters) NewMeter(cfg ports.AudioConfig) ports.LevelMeter {
	return NewSpectrumAnalyzer(m.Config, cfg.Channels)
}

// SpectrumAnalyzer keeps the most recent FFTSize samples of a PCM stream
// and reports the mean byte magnitude of their frequency bins.
type SpectrumAnalyzer struct {
	cfg      SpectrumConfig
	channels int
	fft      *fourier.FFT
	window   []float64

	mu       sync.Mutex
	samples  []float64
	writePos int
	filled   int
	pending  []byte
	smoothed []float64
	frame    []float64
	coeffs   []complex128
}

func NewSpectrumAnalyzer(cfg SpectrumConfig, channels int) *SpectrumAnalyzer {
	defaults := DefaultSpectrumConfig()
	if cfg.FFTSize < 32 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = defaults.FFTSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = defaults.Smoothing
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels = defaults.MinDecibels
		cfg.MaxDecibels = defaults.MaxDecibels
	}
	if channels <= 0 {
		channels = 1
	}

	return &SpectrumAnalyzer{
		cfg:      cfg,
		channels: channels,
		fft:      fourier.NewFFT(cfg.FFTSize),
		window:   blackmanWindow(cfg.FFTSize),
		samples:  make([]float64, cfg.FFTSize),
		smoothed: make([]float64, cfg.FFTSize/2),
		frame:    make([]float64, cfg.FFTSize),
	}
}

// Write appends interleaved s16le PCM, down-mixed to mono.
func (a *SpectrumAnalyzer) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frameBytes := 2 * a.channels
	data := pcm
	if len(a.pending) > 0 {
		data = append(a.pending, pcm...)
		a.pending = nil
	}

	usable := len(data) - len(data)%frameBytes
	for i := 0; i < usable; i += frameBytes {
		var sum float64
		for ch := 0; ch < a.channels; ch++ {
			offset := i + 2*ch
			sample := int16(data[offset]) | int16(data[offset+1])<<8
			sum += float64(sample) / 32768.0
		}
		a.samples[a.writePos] = sum / float64(a.channels)
		a.writePos = (a.writePos + 1) % len(a.samples)
		if a.filled < len(a.samples) {
			a.filled++
		}
	}
	if usable < len(data) {
		a.pending = append([]byte(nil), data[usable:]...)
	}
}

// Level returns the mean of the byte frequency bins, 0..255.
func (a *SpectrumAnalyzer) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := len(a.samples)
	// Oldest sample first; unfilled slots are zero padding.
	for i := 0; i < size; i++ {
		var value float64
		if a.filled == size {
			value = a.samples[(a.writePos+i)%size]
		} else if offset := i - (size - a.filled); offset >= 0 {
			value = a.samples[offset]
		}
		a.frame[i] = value * a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	var total float64
	for k := range a.smoothed {
		magnitude := cmplx.Abs(a.coeffs[k]) / float64(size)
		a.smoothed[k] = a.cfg.Smoothing*a.smoothed[k] + (1-a.cfg.Smoothing)*magnitude
		total += byteMagnitude(a.smoothed[k], a.cfg.MinDecibels, scale)
	}
	return total / float64(len(a.smoothed))
}

func byteMagnitude(magnitude float64, minDecibels float64, scale float64) float64 {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	value := math.Floor(scale * (db - minDecibels))
	switch {
	case value < 0:
		return 0
	case value > 255:
		return 255
	default:
		return value
	}
}

func blackmanWindow(size int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2

	window := make([]float64, size)
	for i := range window {
		x := float64(i) / float64(size)
		window[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return window
}
