// Package bench times repeated inference runs for the bench command.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Run is one timed call. Audio is the audio produced or consumed by the
// call and Tokens the tokens generated; either may be zero.
type Run struct {
	Index   int
	Cold    bool // first run of the series
	Elapsed time.Duration
	Audio   time.Duration
	Tokens  int
}

// RTF returns the run's realtime factor, or 0 when it handled no audio.
func (r Run) RTF() float64 { return CalcRTF(r.Elapsed, r.Audio) }

// TokensPerSecond returns the generation throughput, or 0.
func (r Run) TokensPerSecond() float64 {
	if r.Elapsed <= 0 || r.Tokens == 0 {
		return 0
	}
	return float64(r.Tokens) / r.Elapsed.Seconds()
}

// Stats aggregates a series of runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration

	MeanRTF             float64
	MeanTokensPerSecond float64
}

// ComputeStats calculates min, max and mean over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		mn = min(mn, d)
		mx = max(mx, d)
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Summarize computes Stats over runs.
func Summarize(runs []Run) Stats {
	durations := make([]time.Duration, len(runs))
	var rtf, tps float64
	for i, r := range runs {
		durations[i] = r.Elapsed
		rtf += r.RTF()
		tps += r.TokensPerSecond()
	}

	s := ComputeStats(durations)
	if n := float64(len(runs)); n > 0 {
		s.MeanRTF = rtf / n
		s.MeanTokensPerSecond = tps / n
	}

	return s
}

// CalcRTF returns elapsed / audio, or 0 when audio is zero.
func CalcRTF(elapsed, audio time.Duration) float64 {
	if audio <= 0 {
		return 0
	}
	return float64(elapsed) / float64(audio)
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// Measure calls fn n times and times each call. fn reports the audio and
// tokens it handled; Measure fills in Index, Cold and Elapsed. The first
// error stops the series.
func Measure(ctx context.Context, n int, fn func(context.Context) (Run, error)) ([]Run, error) {
	if n < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", n)
	}

	runs := make([]Run, 0, n)
	for i := range n {
		if err := ctx.Err(); err != nil {
			return runs, err
		}

		start := time.Now()
		r, err := fn(ctx)
		if err != nil {
			return runs, fmt.Errorf("run %d: %w", i+1, err)
		}

		r.Index = i
		r.Cold = i == 0
		r.Elapsed = time.Since(start)
		runs = append(runs, r)
	}

	return runs, nil
}

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []Run, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %8s  %8s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "RTF", "Tokens", "Tok/s")
	fmt.Fprintln(sb, strings.Repeat("-", 66))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10.1f  %8.3f  %8d  %8.1f\n",
			r.Index+1,
			cold,
			ms(r.Elapsed),
			ms(r.Audio),
			r.RTF(),
			r.Tokens,
			r.TokensPerSecond(),
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 66))
	fmt.Fprintf(sb, "min %.1fms  mean %.1fms  max %.1fms  mean RTF %.3f  mean tok/s %.1f\n",
		ms(stats.Min), ms(stats.Mean), ms(stats.Max), stats.MeanRTF, stats.MeanTokensPerSecond)

	fmt.Fprint(w, sb.String())
}

type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index           int     `json:"index"`
	Cold            bool    `json:"cold"`
	DurationMS      float64 `json:"duration_ms"`
	AudioMS         float64 `json:"audio_ms"`
	RTF             float64 `json:"rtf"`
	Tokens          int     `json:"tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

type jsonStats struct {
	MinMS               float64 `json:"min_ms"`
	MeanMS              float64 `json:"mean_ms"`
	MaxMS               float64 `json:"max_ms"`
	MeanRTF             float64 `json:"mean_rtf"`
	MeanTokensPerSecond float64 `json:"mean_tokens_per_second"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []Run, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:               ms(stats.Min),
			MeanMS:              ms(stats.Mean),
			MaxMS:               ms(stats.Max),
			MeanRTF:             stats.MeanRTF,
			MeanTokensPerSecond: stats.MeanTokensPerSecond,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:           r.Index,
			Cold:            r.Cold,
			DurationMS:      ms(r.Elapsed),
			AudioMS:         ms(r.Audio),
			RTF:             r.RTF(),
			Tokens:          r.Tokens,
			TokensPerSecond: r.TokensPerSecond(),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
