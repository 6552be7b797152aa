package config

import "errors"

// Configuration errors
var (
	ErrConfigNil                 = errors.New("config cannot be nil")
	ErrConfigNotPointer          = errors.New("config must be a pointer")
	ErrConfigNotStruct           = errors.New("config must be a struct")
	ErrUnsupportedTypeForDefault = errors.New("unsupported type for default value")
	ErrInvalidDefault            = errors.New("invalid default value")
	ErrDecode                    = errors.New("failed to decode configuration")
	ErrLoad                      = errors.New("failed to load configuration")
	ErrValidation                = errors.New("configuration validation failed")
	ErrWatcherStarted            = errors.New("configuration watcher already started")
)
