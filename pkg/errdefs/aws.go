package errdefs

import (
	"errors"

	"github.com/aws/smithy-go"
)

var (
	// spotUnavailableCodes signify that spot capacity is temporarily unable
	// to be launched in the requested zone. Falling back to on-demand in the
	// same zone is the expected recovery.
	spotUnavailableCodes = map[string]bool{
		"InsufficientInstanceCapacity": true,
		"SpotMaxPriceTooLow":           true,
		"UnfulfillableCapacity":        true,
		"Unsupported":                  true,
	}

	// quotaCodes mean the account refused the launch outright. There is no
	// point retrying within the same tick.
	quotaCodes = map[string]bool{
		"InstanceLimitExceeded":        true,
		"VcpuLimitExceeded":            true,
		"MaxSpotInstanceCountExceeded": true,
		"RequestLimitExceeded":         true,
	}

	conditionalCheckFailedCodes = map[string]bool{
		"ConditionalCheckFailedException": true,
		"TransactionCanceledException":    true,
	}
)

// ClassifyLaunch translates an EC2 launch error into a typed kind. Unknown
// API errors are treated as transport faults and retried with backoff.
func ClassifyLaunch(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case quotaCodes[code]:
			return Wrap(KindQuotaExceeded, op, err)
		case spotUnavailableCodes[code]:
			return Wrap(KindSpotUnavailable, op, err)
		}
	}
	return Wrap(KindTransport, op, err)
}

// ClassifyConditional translates a DynamoDB conditional-write rejection into
// the appropriate kind. A failed lock acquire is contention; a failed state
// write under a held lock means the lock was lost.
func ClassifyConditional(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && conditionalCheckFailedCodes[apiErr.ErrorCode()] {
		return Wrap(kind, op, err)
	}
	return Wrap(KindTransport, op, err)
}
