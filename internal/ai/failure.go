package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// FailureKind classifies a generation failure for user-facing apologies.
type FailureKind string

const (
	FailureTimeout FailureKind = "timeout"
	FailureQuota   FailureKind = "quota"
	FailureNetwork FailureKind = "network"
	FailureAuth    FailureKind = "auth"
	FailureUnknown FailureKind = "unknown"
)

var failureMarkers = []struct {
	kind    FailureKind
	markers []string
}{
	{FailureTimeout, []string{"timeout", "timed out", "deadline exceeded", "deadlineexceeded"}},
	{FailureQuota, []string{"quota", "rate limit", "ratelimit", "resource exhausted", "resourceexhausted", "too many requests", "429"}},
	{FailureAuth, []string{"unauthorized", "unauthenticated", "permission denied", "permissiondenied", "api key", "api_key", "credential", "forbidden", "401", "403"}},
	{FailureNetwork, []string{"connection", "network", "dial tcp", "no such host", "unreachable", "eof", "unavailable", "503", "502"}},
}

// Classify inspects err (typed errors first, then error text) and returns its failure kind.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return FailureQuota
		case http.StatusUnauthorized, http.StatusForbidden:
			return FailureAuth
		}
	}

	text := strings.ToLower(err.Error())
	for _, group := range failureMarkers {
		for _, m := range group.markers {
			if strings.Contains(text, m) {
				return group.kind
			}
		}
	}
	return FailureUnknown
}
