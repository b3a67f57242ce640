package logging

import "strings"

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"password":      true,
	"pass":          true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"auth":          true,
	"cookie":        true,
	"session":       true,
	"credential":    true,
	"private_key":   true,
	"privatekey":    true,
}

type Fields map[string]interface{}

func WithField(key string, value interface{}) Fields {
	return Fields{key: value}
}

func WithFields(f Fields) Fields {
	result := make(Fields, len(f))
	for k, v := range f {
		result[k] = v
	}
	return result
}

func WithError(err error) Fields {
	if err == nil {
		return Fields{}
	}
	return Fields{"error": err.Error()}
}

func (f Fields) Add(key string, value interface{}) Fields {
	f[key] = value
	return f
}

func (f Fields) Merge(other Fields) Fields {
	for k, v := range other {
		f[k] = v
	}
	return f
}

// Sanitize returns a copy with credential-like values replaced.
func (f Fields) Sanitize() Fields {
	result := make(Fields, len(f))
	for k, v := range f {
		if isSensitiveKey(k) {
			result[k] = redacted
		} else {
			result[k] = v
		}
	}
	return result
}

// SanitizeStrings applies the same redaction to a string map, such as route
// params copied into an incident report.
func SanitizeStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			result[k] = redacted
		} else {
			result[k] = v
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}
