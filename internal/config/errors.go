package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation failure
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoSeeds is returned when a run has neither seeds nor a checkpoint to resume
	ErrNoSeeds = errors.New("no seeds configured and no checkpoint to resume")
)
