package awsclient

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"

	"github.com/queuepulse/queuepulse/internal/provider"
)

// throttleCodes are the API error codes AWS services use to signal rate
// limiting. They differ between services, SQS alone uses two of them.
var throttleCodes = map[string]bool{
	"ThrottlingException":       true,
	"Throttling":                true,
	"TooManyRequestsException":  true,
	"RequestThrottled":          true,
	"RequestThrottledException": true,
	"RequestLimitExceeded":      true,
	"SlowDown":                  true,
}

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException":                   true,
	"QueueDoesNotExist":                           true,
	"AWS.SimpleQueueService.NonExistentQueue":     true,
	"AWS.SimpleQueueService.QueueDeletedRecently": true,
}

var transientCodes = map[string]bool{
	"ServiceUnavailable":          true,
	"ServiceUnavailableException": true,
	"InternalFailure":             true,
	"InternalServerError":         true,
	"RequestTimeout":              true,
	"RequestTimeoutException":     true,
}

// classify maps an SDK error onto the provider error taxonomy. Errors that
// are already classified (breaker-open, for instance) pass through as-is.
func classify(err error, op, resource string) error {
	if err == nil {
		return nil
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case throttleCodes[code]:
			return provider.NewRateLimit(op, resource, err)
		case notFoundCodes[code]:
			return provider.NewNotFound(op, resource, err)
		case transientCodes[code], apiErr.ErrorFault() == smithy.FaultServer:
			return provider.NewTransient(op, resource, err)
		default:
			return provider.NewInternal(op, resource, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return provider.NewTransient(op, resource, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.NewTransient(op, resource, err)
	}

	return provider.NewInternal(op, resource, err)
}
