// Package config holds the process-wide settings: the three nnU-Net root
// directories and the engine selection. It is populated once at startup by
// FromEnv and then passed explicitly to the packages that need it.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names understood by nnU-Net.
const (
	EnvRawRoot          = "nnUNet_raw_data_base"
	EnvPreprocessedRoot = "nnUNet_preprocessed"
	EnvResultsRoot      = "RESULTS_FOLDER"

	EnvEngine        = "SEGMENTATOR_ENGINE"
	EnvNNUNetCommand = "NNUNET_PREDICT_CMD"
	EnvORTLibrary    = "ONNXRUNTIME_LIB"
)

// EngineKind selects the inference backend.
type EngineKind string

const (
	EngineNNUNet EngineKind = "nnunet" // External nnUNet_predict process (default).
	EngineONNX   EngineKind = "onnx"   // In-process ONNX Runtime.
)

type Config struct {
	RawRoot          string
	PreprocessedRoot string
	ResultsRoot      string

	Engine         EngineKind
	NNUNetCommand  string // Default: "nnUNet_predict".
	ORTLibraryPath string // Optional path to libonnxruntime.

	Verbose bool
}

// DefaultConfig returns a Config with no roots set and the subprocess engine selected.
func DefaultConfig() Config {
	return Config{
		Engine:        EngineNNUNet,
		NNUNetCommand: "nnUNet_predict",
	}
}

// FromEnv loads an optional .env file from the working directory and then
// fills a Config from the process environment.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.RawRoot = os.Getenv(EnvRawRoot)
	cfg.PreprocessedRoot = os.Getenv(EnvPreprocessedRoot)
	cfg.ResultsRoot = os.Getenv(EnvResultsRoot)
	if v := os.Getenv(EnvEngine); v != "" {
		cfg.Engine = EngineKind(v)
	}
	if v := os.Getenv(EnvNNUNetCommand); v != "" {
		cfg.NNUNetCommand = v
	}
	cfg.ORTLibraryPath = os.Getenv(EnvORTLibrary)
	return cfg
}

func (c *Config) Validate() error {
	switch c.Engine {
	case EngineNNUNet, EngineONNX:
	default:
		return fmt.Errorf("invalid engine %q (use 'nnunet' or 'onnx')", c.Engine)
	}
	if c.Engine == EngineNNUNet && c.NNUNetCommand == "" {
		return errors.New("nnunet engine needs a predict command")
	}
	return nil
}

// Env returns the root directories as KEY=value pairs, skipping unset ones.
// The subprocess engine appends these to its environment so nnU-Net sees the
// same roots this process resolved tasks against.
func (c *Config) Env() []string {
	var env []string
	for _, kv := range [][2]string{
		{EnvRawRoot, c.RawRoot},
		{EnvPreprocessedRoot, c.PreprocessedRoot},
		{EnvResultsRoot, c.ResultsRoot},
	} {
		if kv[1] != "" {
			env = append(env, kv[0]+"="+kv[1])
		}
	}
	return env
}
