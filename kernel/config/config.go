// Package config loads the kernel boot configuration from a JSON file.
package config

import (
	"encoding/json"
	"os"

	"rvos/kernel"
)

// Config holds the tunables read at boot.
type Config struct {
	// MemoryFrames is the number of physical frames installed.
	MemoryFrames uint `json:"memory_frames"`

	// BigStride is divided by a task priority to obtain its stride.
	BigStride uint64 `json:"big_stride"`

	// DefaultPriority is the priority of newly created tasks.
	DefaultPriority uint64 `json:"default_priority"`

	// UserStackPages is the size of each user stack in pages.
	UserStackPages uint `json:"user_stack_pages"`

	// TimesliceMs is the interval between timer traps.
	TimesliceMs uint `json:"timeslice_ms"`

	LogLevel      string `json:"log_level"`
	AppDir        string `json:"app_dir"`
	InitProc      string `json:"init_proc"`
	ConsolePrefix string `json:"console_prefix"`
}

var (
	errNoMemory        = &kernel.Error{Module: "config", Message: "memory_frames must be greater than zero"}
	errBadPriority     = &kernel.Error{Module: "config", Message: "default_priority must be at least 2"}
	errBadStride       = &kernel.Error{Module: "config", Message: "big_stride must be at least twice default_priority"}
	errNoStack         = &kernel.Error{Module: "config", Message: "user_stack_pages must be greater than zero"}
	errNoInitProc      = &kernel.Error{Module: "config", Message: "init_proc must name an application"}
	errUnreadableFile  = &kernel.Error{Module: "config", Message: "unable to open configuration file"}
	errMalformedConfig = &kernel.Error{Module: "config", Message: "malformed configuration file"}
)

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		MemoryFrames:    2048,
		BigStride:       0x10000,
		DefaultPriority: 16,
		UserStackPages:  2,
		TimesliceMs:     10,
		LogLevel:        "INFO",
		AppDir:          "./apps",
		InitProc:        "initproc",
		ConsolePrefix:   "[user] ",
	}
}

// Load reads the JSON file at path on top of the defaults and validates the
// result. Fields missing from the file keep their default value.
func Load(path string) (Config, *kernel.Error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, errUnreadableFile
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errMalformedConfig
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the kernel cannot boot with.
func (c Config) Validate() *kernel.Error {
	switch {
	case c.MemoryFrames == 0:
		return errNoMemory
	case c.DefaultPriority < 2:
		return errBadPriority
	case c.BigStride < 2*c.DefaultPriority:
		return errBadStride
	case c.UserStackPages == 0:
		return errNoStack
	case c.InitProc == "":
		return errNoInitProc
	}
	return nil
}
