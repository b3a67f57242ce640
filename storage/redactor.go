package storage

import (
	"net/url"
	"strings"
	"sync"
)

const redactValue = "[REDACTED]"

// Redactor masks values of sensitive keys in route params and request URLs
// before they are copied into an incident report.
type Redactor struct {
	mu       sync.RWMutex
	keys     map[string]struct{}
	ruleRepo RedactRuleRepo
}

// NewRedactor returns a redactor with the built-in patterns.
func NewRedactor() *Redactor {
	keys := make(map[string]struct{}, len(defaultRedactPatterns))
	for _, p := range defaultRedactPatterns {
		keys[p] = struct{}{}
	}
	return &Redactor{keys: keys}
}

func NewRedactorWithRepo(repo RedactRuleRepo) (*Redactor, error) {
	r := &Redactor{
		keys:     make(map[string]struct{}),
		ruleRepo: repo,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Redactor) Reload() error {
	if r.ruleRepo == nil {
		return nil
	}
	rules, err := r.ruleRepo.GetAll()
	if err != nil {
		return err
	}
	keys := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		keys[strings.ToLower(rule.Pattern)] = struct{}{}
	}
	r.mu.Lock()
	r.keys = keys
	r.mu.Unlock()
	return nil
}

func (r *Redactor) sensitive(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

func (r *Redactor) RedactParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	result := make(map[string]string, len(params))
	for k, v := range params {
		if r.sensitive(k) {
			result[k] = redactValue
		} else {
			result[k] = v
		}
	}
	return result
}

// RedactURL masks sensitive query values. URLs that fail to parse are
// returned unchanged.
func (r *Redactor) RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	query := u.Query()
	changed := false
	for k, vals := range query {
		if !r.sensitive(k) {
			continue
		}
		for i := range vals {
			vals[i] = redactValue
		}
		changed = true
	}
	if !changed {
		return raw
	}
	u.RawQuery = query.Encode()
	return u.String()
}
