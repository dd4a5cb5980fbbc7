package config

import "errors"

var (
	ErrUnsupportedFormat    = errors.New("unsupported config file format")
	ErrConfigNil            = errors.New("config is nil")
	ErrConfigNotPointer     = errors.New("config must be a pointer to a struct")
	ErrRequiredFieldMissing = errors.New("required field missing")
	ErrUnsupportedDefault   = errors.New("unsupported type for default value")
	ErrDuplicateModuleEntry = errors.New("module listed more than once")
	ErrEnvConversion        = errors.New("cannot convert environment value")
	ErrReadConfig           = errors.New("cannot read config file")
)
