// Package config holds the pipeline's Config data-model entity (spec.md
// section 3/6): the immutable, mode-derived settings shared read-only by
// every actor. It also exposes a thin ambient environment loader for
// process-wide defaults (log level, default mode/worker count) - distinct
// from end-user CLI/flag parsing, which remains out of scope (spec.md
// section 1 Non-goals).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
)

// Config is the immutable, mode-derived configuration for one pipeline run.
// Fields are tagged for github.com/go-playground/validator/v10, matching
// the teacher's internal/api/rest.go request-validation style.
type Config struct {
	Mode             ptypes.PipelineMode `validate:"oneof=VIDEO CAMERA"`
	MaxWorkers       int                 `validate:"gte=1"`
	InputCapacity    int                 `validate:"gte=1"`
	OutputCapacity   int                 `validate:"gte=1"`
	TargetFPS        float64             `validate:"gt=0"`
	DropThreshold    float64             `validate:"gt=0,lte=1"`
	PreserveOrder    bool
	InferenceTimeout time.Duration `validate:"gt=0"`
}

// DefaultsFor derives a Config for mode following spec.md section 6's
// defaults table. sourceFPS is the FrameSource's nominal FPS (VIDEO mode
// falls back to it when targetFPS is unset); maxWorkers must already be
// known by the caller (it is not mode-derived).
//
// targetFPSOverride <= 0 means "unset": VIDEO then uses sourceFPS (falling
// back to 30 if that is also <= 0), CAMERA uses 30.
func DefaultsFor(mode ptypes.PipelineMode, maxWorkers int, sourceFPS, targetFPSOverride float64) Config {
	cfg := Config{Mode: mode, MaxWorkers: maxWorkers}

	switch mode {
	case ptypes.ModeVideo:
		cfg.InputCapacity = 20
		cfg.OutputCapacity = 50
		cfg.DropThreshold = 1 // VIDEO ignores the drop check entirely
		cfg.PreserveOrder = true
		cfg.InferenceTimeout = 15 * time.Second

		fps := targetFPSOverride
		if fps <= 0 {
			fps = sourceFPS
		}
		if fps <= 0 {
			fps = 30
		}
		cfg.TargetFPS = fps
	default: // ptypes.ModeCamera, and any unrecognised mode (caught by Validate)
		cfg.InputCapacity = 5
		cfg.OutputCapacity = 1
		cfg.DropThreshold = 0.8
		cfg.PreserveOrder = false
		cfg.InferenceTimeout = 5 * time.Second

		fps := targetFPSOverride
		if fps <= 0 {
			fps = 30
		}
		cfg.TargetFPS = fps
	}

	return cfg
}

// Validate runs struct-tag validation and returns errs.ErrConfigInvalid
// (wrapped with the underlying validator error) if any field violates its
// tag. The validator error lists every failing field, not only the first.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConfigInvalid, err)
	}
	return nil
}
