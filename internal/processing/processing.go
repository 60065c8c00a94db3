// Package processing holds the media functions a worker invokes for each job
// type and the registry that maps job types to them.
package processing

import (
	"context"
	"os/exec"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"mediaflow/internal/domain"
)

// File is one input handed to a function.
type File struct {
	Asset *domain.Asset
	Data  []byte
}

func (f File) name() string {
	if f.Asset != nil && f.Asset.Filename != "" {
		return f.Asset.Filename
	}
	return "input"
}

// Input is everything a function needs to process one job.
type Input struct {
	Job   *domain.Job
	Files []File
	// LUT holds the .cube file referenced by color_grade params, if any.
	LUT []byte
	// Progress reports a checkpoint in percent. Never nil inside Invoke.
	Progress func(percent int)
}

// Output is the single result object of a job.
type Output struct {
	Data []byte
	MIME string
	Ext  string
}

// Func processes one job. Functions must honour ctx cancellation and return
// errors wrapped with domain.Transient or domain.Permanent.
type Func func(ctx context.Context, in Input) (Output, error)

// Registry maps job types to functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[domain.JobType]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[domain.JobType]Func)}
}

// Register installs fn for t, replacing any previous function.
func (r *Registry) Register(t domain.JobType, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[t] = fn
}

// Lookup returns the function registered for t.
func (r *Registry) Lookup(t domain.JobType) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[t]
	return fn, ok
}

// Types lists the registered job types.
func (r *Registry) Types() []domain.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.JobType, 0, len(r.funcs))
	for t := range r.funcs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Invoke runs the function for in.Job.Type. Unknown types fail permanently.
func (r *Registry) Invoke(ctx context.Context, in Input) (Output, error) {
	fn, ok := r.Lookup(in.Job.Type)
	if !ok {
		return Output{}, domain.Permanentf("no processing function for %q", in.Job.Type)
	}
	if in.Progress == nil {
		in.Progress = func(int) {}
	}
	if err := ctx.Err(); err != nil {
		return Output{}, context.Cause(ctx)
	}
	return fn(ctx, in)
}

// Options configures the built-in functions.
type Options struct {
	Tools    Tools
	RemoveBG RemoveBGOptions
	Logger   zerolog.Logger
}

// Tools names the external executables. Empty names disable the feature.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Cwebp   string
	Avifenc string
}

// available resolves name in PATH, returning "" when it is missing.
func available(name string) string {
	if name == "" {
		return ""
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

// NewDefaultRegistry registers every built-in function. Video functions are
// skipped with a warning when ffmpeg is not installed; webp and avif output
// is disabled likewise when their encoders are missing.
func NewDefaultRegistry(opts Options) *Registry {
	log := opts.Logger.With().Str("component", "processing").Logger()
	r := NewRegistry()

	enc := encoders{
		cwebp:   available(opts.Tools.Cwebp),
		avifenc: available(opts.Tools.Avifenc),
	}
	if enc.cwebp == "" {
		log.Warn().Str("command", opts.Tools.Cwebp).Msg("processing: webp output disabled, encoder not found in PATH")
	}
	if enc.avifenc == "" {
		log.Warn().Str("command", opts.Tools.Avifenc).Msg("processing: avif output disabled, encoder not found in PATH")
	}
	r.Register(domain.JobTypeConvert, Convert(enc))
	r.Register(domain.JobTypeColorGrade, ColorGrade)
	r.Register(domain.JobTypeRemoveBG, RemoveBackground(NewRemoteSegmenter(opts.RemoveBG), log))

	ffmpeg := available(opts.Tools.FFmpeg)
	if ffmpeg == "" {
		log.Warn().Str("command", opts.Tools.FFmpeg).Msg("processing: video merge and trim disabled, ffmpeg not found in PATH")
	}
	r.Register(domain.JobTypeMerge, Merge(ffmpeg))
	if ffmpeg != "" {
		r.Register(domain.JobTypeTrim, Trim(ffmpeg))
	}
	log.Debug().Interface("types", r.Types()).Msg("processing: functions registered")
	return r
}
