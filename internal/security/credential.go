package security

import (
	"regexp"
	"strings"
)

var sqlInjectionMarkers = []string{
	"'", ";", "--", "/*", "*/",
}

var sqlKeywordRe = regexp.MustCompile(`(?i)\b(union|or\s+1\s*=\s*1|drop\s+table|select\s+\*|exec(ute)?\s*\()\b`)

// ValidateSSHCredentials implements validateSSHCredentials from §4.3: the
// host must be a valid, non-blocked IP; username and password are bounded
// in length and screened for null bytes and SQL-injection markers. The
// triple is returned verbatim on success; the caller must never log the
// password, only credstore.HashForLogging(password).
func ValidateSSHCredentials(host, username, password string, callerIsLocalhost bool) (string, string, string, error) {
	addr, err := ValidateIPAddress(host, callerIsLocalhost)
	if err != nil {
		return "", "", "", err
	}

	if err := validateCredentialField("username", username, 1, 64); err != nil {
		return "", "", "", err
	}
	if err := validateCredentialField("password", password, 1, 128); err != nil {
		return "", "", "", err
	}

	return addr.String(), username, password, nil
}

func validateCredentialField(field, value string, minLen, maxLen int) error {
	if len(value) < minLen || len(value) > maxLen {
		return &CredentialValidationError{Field: field, Reason: "length out of range"}
	}
	if containsUnsafeChars(value) {
		return &CredentialValidationError{Field: field, Reason: "contains null byte or control character"}
	}
	lower := strings.ToLower(value)
	for _, marker := range sqlInjectionMarkers {
		if strings.Contains(value, marker) {
			return &CredentialValidationError{Field: field, Reason: "contains SQL-injection marker"}
		}
	}
	if sqlKeywordRe.MatchString(lower) {
		return &CredentialValidationError{Field: field, Reason: "contains SQL-injection marker"}
	}
	return nil
}
