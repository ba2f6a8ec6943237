package provider

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/souravs72/cg-notification-sub001/internal/messages"
)

// maxStoredErrorLen bounds the error text persisted on the message so a large
// provider response body cannot bloat the row.
const maxStoredErrorLen = 500

var (
	bearerPattern      = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
	sendgridKeyPattern = regexp.MustCompile(`SG\.[A-Za-z0-9._-]+`)
)

// Classify categorizes a non-success provider outcome. The classification
// drives the retry policy: PERMANENT goes straight to the DLQ, RATE_LIMIT
// backs off on a dedicated policy, everything else is TRANSIENT.
func Classify(httpStatus int, errorMessage, responseBody string) messages.FailureType {
	if httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden {
		return messages.FailurePermanent
	}

	combined := strings.ToLower(errorMessage + " " + responseBody)
	if strings.Contains(combined, "invalid") && strings.Contains(combined, "key") {
		return messages.FailurePermanent
	}

	if httpStatus == http.StatusTooManyRequests || strings.Contains(combined, "too many requests") {
		return messages.FailureRateLimit
	}

	return messages.FailureTransient
}

// SanitizeError bounds and redacts an error message before it is persisted.
// The classifier may inspect raw bodies in memory; stored text must never
// echo provider credentials.
func SanitizeError(msg string) string {
	msg = bearerPattern.ReplaceAllString(msg, "Bearer [REDACTED]")
	msg = sendgridKeyPattern.ReplaceAllString(msg, "[REDACTED]")
	if len(msg) > maxStoredErrorLen {
		msg = msg[:maxStoredErrorLen]
	}
	return msg
}
