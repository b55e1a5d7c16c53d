package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) errorf(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) warnf(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateData(data), nil
}

// ValidateData is ValidateFile on in-memory contents
func ValidateData(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.errorf("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.errorf("version", "version field is required. Hint: Add \"version\": \"%s\"", VersionPrefix)
	} else if !strings.HasPrefix(version, VersionPrefix) {
		result.errorf("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, VersionPrefix, VersionPrefix)
	}

	_, hasRelay := rawConfig["relay"]
	_, hasUpstream := rawConfig["upstream"]
	if !hasRelay && !hasUpstream {
		result.errorf("", "at least one of relay or upstream must be configured")
	}

	if hasRelay {
		validateRelayStructure(rawConfig["relay"], result)
	}
	if hasUpstream {
		validateUpstreamStructure(rawConfig["upstream"], result)
	}
	if host, ok := rawConfig["host"]; ok {
		if _, isMap := host.(map[string]any); !isMap {
			result.errorf("host", "host must be an object")
		}
	}
	return result
}

func validateRelayStructure(value any, result *ValidationResult) {
	relay, ok := value.(map[string]any)
	if !ok {
		result.errorf("relay", "relay must be an object")
		return
	}

	if _, ok := relay["hashKey"]; !ok {
		result.errorf("relay.hashKey", "hashKey is required. Hint: {\"$env\": \"RELAY_HASH_KEY\"}")
	}
	for _, name := range secretFields {
		if v, ok := relay[name]; ok {
			if verr := validateEnvVarReference(v, name, "relay."+name); verr != nil {
				result.Errors = append(result.Errors, *verr)
			}
		}
	}
	if _, ok := relay["jwtSecret"]; !ok {
		result.warnf("relay.jwtSecret", "jwtSecret is not set - relay tokens will not be signature-checked")
	}

	storage, _ := relay["storage"].(string)
	switch StorageKind(storage) {
	case "", StorageMemory:
	case StorageFirestore:
		if _, ok := relay["gcpProject"]; !ok {
			result.errorf("relay.gcpProject", "gcpProject is required when using firestore storage")
		}
	case StoragePostgres:
		if _, ok := relay["postgresDsn"]; !ok {
			result.errorf("relay.postgresDsn", "postgresDsn is required when using postgres storage")
		}
	default:
		result.errorf("relay.storage", "invalid storage '%s' - must be memory, firestore or postgres", storage)
	}

	var ttl, interval time.Duration
	for _, field := range []struct {
		name string
		dst  *time.Duration
	}{{"sessionTtl", &ttl}, {"cleanupInterval", &interval}} {
		raw, ok := relay[field.name]
		if !ok {
			continue
		}
		s, isString := raw.(string)
		if !isString {
			result.errorf("relay."+field.name, "%s must be a duration string like \"1h\"", field.name)
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			result.errorf("relay."+field.name, "invalid duration '%s': %v", s, err)
			continue
		}
		*field.dst = d
	}
	if ttl > 0 && interval > ttl {
		result.warnf("relay.cleanupInterval", "cleanupInterval is greater than sessionTtl - expired sessions will linger")
	}

	if origins, ok := relay["allowedOrigins"].([]any); ok {
		for i, o := range origins {
			if o == "*" {
				result.errorf(fmt.Sprintf("relay.allowedOrigins[%d]", i), "wildcard origin is not allowed because the relay accepts credentials")
			}
		}
	} else {
		result.warnf("relay.allowedOrigins", "allowedOrigins is empty - browsers on other origins cannot call the relay")
	}
}

func validateUpstreamStructure(value any, result *ValidationResult) {
	upstream, ok := value.(map[string]any)
	if !ok {
		result.errorf("upstream", "upstream must be an object")
		return
	}
	for _, name := range []string{"url", "anonKey"} {
		if _, ok := upstream[name]; !ok {
			result.errorf("upstream."+name, "%s is required", name)
		}
	}
}

// validateEnvVarReference checks that value is an {"$env": "NAME"} object
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	ref, ok := value.(map[string]any)
	if !ok {
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference for security. Hint: {\"$env\": \"%s\"}", fieldName, strings.ToUpper(fieldName)),
		}
	}
	name, ok := ref["$env"].(string)
	if !ok || name == "" {
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use {\"$env\": \"VAR_NAME\"} format", fieldName),
		}
	}
	return nil
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.warnf(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI and ensures unambiguous parsing", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
