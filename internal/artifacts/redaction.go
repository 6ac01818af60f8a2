package artifacts

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactionConfig defines rules for redacting sensitive artifacts before
// they are stored.
type RedactionConfig struct {
	Enabled          bool
	Types            []string
	MimeTypes        []string
	FilenamePatterns []string
}

// RedactionPolicy evaluates artifacts against redaction rules.
type RedactionPolicy struct {
	enabled          bool
	typeSet          map[string]struct{}
	mimeExact        map[string]struct{}
	mimePrefixes     []string
	filenamePatterns []*regexp.Regexp
}

// NewRedactionPolicy compiles a policy from config. A disabled config
// yields a nil policy, which StoreArtifact treats as a no-op.
func NewRedactionPolicy(cfg RedactionConfig) (*RedactionPolicy, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	policy := &RedactionPolicy{
		enabled:   true,
		typeSet:   make(map[string]struct{}),
		mimeExact: make(map[string]struct{}),
	}

	for _, t := range cfg.Types {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" {
			continue
		}
		policy.typeSet[t] = struct{}{}
	}

	for _, m := range cfg.MimeTypes {
		m = strings.TrimSpace(strings.ToLower(m))
		if m == "" {
			continue
		}
		if strings.HasSuffix(m, "/*") {
			prefix := strings.TrimSuffix(m, "/*")
			if prefix != "" {
				policy.mimePrefixes = append(policy.mimePrefixes, prefix+"/")
			}
			continue
		}
		policy.mimeExact[m] = struct{}{}
	}

	for _, pattern := range cfg.FilenamePatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction filename pattern %q: %w", pattern, err)
		}
		policy.filenamePatterns = append(policy.filenamePatterns, re)
	}

	return policy, nil
}

// ShouldRedact reports whether an artifact with the given type/mime/filename
// matches any configured redaction rule.
func (p *RedactionPolicy) ShouldRedact(artifactType, mimeType, filename string) bool {
	if p == nil || !p.enabled {
		return false
	}

	if artifactType != "" {
		if _, ok := p.typeSet[strings.ToLower(artifactType)]; ok {
			return true
		}
	}

	if mimeType != "" {
		mime := strings.ToLower(mimeType)
		if _, ok := p.mimeExact[mime]; ok {
			return true
		}
		for _, prefix := range p.mimePrefixes {
			if strings.HasPrefix(mime, prefix) {
				return true
			}
		}
	}

	if filename != "" {
		for _, re := range p.filenamePatterns {
			if re.MatchString(filename) {
				return true
			}
		}
	}

	return false
}

// Apply returns data unchanged unless it matches a redaction rule, in
// which case it returns a fixed placeholder instead of the original
// content. Artifacts redacted this way are still stored (so ids and
// lookups keep working) but never retain the original bytes.
func (p *RedactionPolicy) Apply(artifactType, mimeType, filename string, data []byte) []byte {
	if !p.ShouldRedact(artifactType, mimeType, filename) {
		return data
	}
	return []byte("[redacted]")
}
