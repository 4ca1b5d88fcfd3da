package config

import (
	"github.com/ilyakaznacheev/cleanenv"
)

// AmbientDefaults holds process-wide knobs that aren't part of the
// data-model Config entity itself but still need to come from somewhere
// other than a literal in main.go - the teacher's TPAConfig.LoadFromFile
// equivalent, narrowed to what this pipeline actually needs.
type AmbientDefaults struct {
	LogLevel      string `env:"FRAMEPIPE_LOG_LEVEL" env-default:"INFO"`
	DefaultMode   string `env:"FRAMEPIPE_MODE" env-default:"CAMERA"`
	DefaultWorker int    `env:"FRAMEPIPE_MAX_WORKERS" env-default:"4"`
}

// LoadAmbientDefaults reads AmbientDefaults from the process environment.
// An unset variable takes its env-default value. It never returns an
// error: if a set variable cannot be parsed (e.g. a non-numeric
// FRAMEPIPE_MAX_WORKERS), cleanenv stops at that field, the error is
// discarded, and that field and any field after it keep their zero value.
func LoadAmbientDefaults() AmbientDefaults {
	var d AmbientDefaults
	// The error is discarded; see the doc comment for what a malformed
	// variable leaves behind.
	_ = cleanenv.ReadEnv(&d)
	return d
}
