package usecase

import (
	"fmt"
	"strings"
	"time"
)

const (
	deliveryEmail = "email"
	deliverySMS   = "sms"
)

// RateLimitExceededError signals that a throttled operation must be retried later.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

func metadataCopy(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func stringPtr(value string) *string {
	return &value
}

func stringPtrOrNil(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return stringPtr(trimmed)
}

func normalizeIdentifierKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func maskDestination(channel, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	switch channel {
	case deliveryEmail:
		if idx := strings.Index(trimmed, "@"); idx > 0 {
			local := trimmed[:idx]
			domainPart := trimmed[idx:]
			if len(local) <= 3 {
				return "***" + domainPart
			}
			return local[:3] + "***" + domainPart
		}
		if len(trimmed) <= 3 {
			return "***"
		}
		return trimmed[:3] + "***"
	case deliverySMS:
		if len(trimmed) > 4 {
			prefix := trimmed[:len(trimmed)-4]
			suffix := trimmed[len(trimmed)-4:]
			return prefix[:min(len(prefix), 4)] + "***" + suffix
		}
		return "***"
	default:
		if len(trimmed) <= 3 {
			return "***"
		}
		return trimmed[:3] + "***"
	}
}
