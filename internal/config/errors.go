package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ErrorType classifies configuration errors
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotFound
	ErrTypeInvalidInput
	ErrTypeConfiguration
)

// ConfigError provides structured error information
type ConfigError struct {
	Type    ErrorType
	Message string
	Cause   error
	Hint    string
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// FormatWithHint returns the error message with hint if available
func (e *ConfigError) FormatWithHint() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s\n  Hint: %s", e.Error(), e.Hint)
	}
	return e.Error()
}

// ErrConfigNotFound creates an error for when the config file doesn't exist
func ErrConfigNotFound(path string) *ConfigError {
	return &ConfigError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("config file not found: %s", path),
		Hint:    "Create a config file or specify an existing file path with --config.",
	}
}

// ErrConfigPermissionDenied creates an error for when the config file cannot be read
func ErrConfigPermissionDenied(path string, cause error) *ConfigError {
	return &ConfigError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("cannot read config file: %s", path),
		Cause:   cause,
		Hint:    "Check file permissions with 'ls -la' and ensure the file is readable.",
	}
}

// ErrConfigEmpty creates an error for when the config file is empty
func ErrConfigEmpty(path string) *ConfigError {
	return &ConfigError{
		Type:    ErrTypeConfiguration,
		Message: fmt.Sprintf("config file is empty: %s", path),
		Hint:    "Add a 'server:' section or remove the --config flag to use defaults.",
	}
}

// ErrConfigPathEmpty creates an error for when the config path is empty or whitespace
func ErrConfigPathEmpty() *ConfigError {
	return &ConfigError{
		Type:    ErrTypeInvalidInput,
		Message: "config file path cannot be empty or whitespace",
		Hint:    "Provide a valid file path with --config or omit the flag to use defaults.",
	}
}

// ErrConfigUnsupportedFormat creates an error for an unknown file extension
func ErrConfigUnsupportedFormat(path, ext string) *ConfigError {
	return &ConfigError{
		Type:    ErrTypeInvalidInput,
		Message: fmt.Sprintf("unsupported config format %q: %s", ext, path),
		Hint:    "Use a .yaml, .yml or .toml file.",
	}
}

// ErrConfigInvalidYAML creates an error for invalid YAML syntax.
// Line and column are taken from the goccy/go-yaml message when present.
func ErrConfigInvalidYAML(path string, cause error) *ConfigError {
	message := fmt.Sprintf("invalid YAML syntax in %s", path)
	if lineCol := extractLineColumn(cause); lineCol != "" {
		message = fmt.Sprintf("invalid YAML syntax in %s at %s", path, lineCol)
	}

	return &ConfigError{
		Type:    ErrTypeInvalidInput,
		Message: message,
		Cause:   cause,
		Hint:    "Check for proper indentation, missing colons, or unclosed quotes near the indicated location.",
	}
}

// ErrConfigInvalidTOML creates an error for invalid TOML syntax
func ErrConfigInvalidTOML(path string, cause error) *ConfigError {
	message := fmt.Sprintf("invalid TOML syntax in %s", path)
	var perr toml.ParseError
	if errors.As(cause, &perr) && perr.Position.Line > 0 {
		message = fmt.Sprintf("invalid TOML syntax in %s at line %d", path, perr.Position.Line)
	}

	return &ConfigError{
		Type:    ErrTypeInvalidInput,
		Message: message,
		Cause:   cause,
		Hint:    "Check for unquoted strings, duplicate keys, or a malformed [server] table.",
	}
}

// ErrInvalidLogLevel creates an error for an unknown log level name
func ErrInvalidLogLevel(level string) *ConfigError {
	return &ConfigError{
		Type:    ErrTypeInvalidInput,
		Message: fmt.Sprintf("invalid log level: %q", level),
		Hint:    "Valid levels: debug, info, warn, error, off.",
	}
}

// ErrInvalidWorkdir creates an error for a working directory that cannot be used
func ErrInvalidWorkdir(path string, cause error) *ConfigError {
	return &ConfigError{
		Type:    ErrTypeConfiguration,
		Message: fmt.Sprintf("invalid working directory: %s", path),
		Cause:   cause,
		Hint:    "Point --workdir at an existing directory.",
	}
}

var lineColumn = regexp.MustCompile(`\[(\d+):(\d+)\]`)

// extractLineColumn extracts line:column from goccy/go-yaml error messages.
// Returns "line N, column M" or an empty string.
func extractLineColumn(err error) string {
	if err == nil {
		return ""
	}
	matches := lineColumn.FindStringSubmatch(err.Error())
	if len(matches) == 3 {
		return fmt.Sprintf("line %s, column %s", matches[1], matches[2])
	}
	return ""
}

// WrapReadError converts an error from reading a config file
func WrapReadError(path string, err error) *ConfigError {
	if os.IsNotExist(err) {
		return ErrConfigNotFound(path)
	}
	if os.IsPermission(err) {
		return ErrConfigPermissionDenied(path, err)
	}
	return &ConfigError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("failed to read config file: %s", path),
		Cause:   err,
		Hint:    "Check that the file exists and is readable.",
	}
}
