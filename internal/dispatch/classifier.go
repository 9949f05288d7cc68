package dispatch

import (
	"slices"

	"smsdispatch/internal/config"
	"smsdispatch/internal/types"
)

// Classifier reports whether a failed send is permanent. Permanent failures
// go straight to failed instead of consuming the remaining retries.
type Classifier func(outcome types.SendOutcome, err error) bool

// TransientClassifier treats every provider failure as retryable.
func TransientClassifier(types.SendOutcome, error) bool { return false }

// StatusCodeClassifier marks rejections with one of the given HTTP statuses
// as permanent. Transport errors stay transient.
func StatusCodeClassifier(codes ...int) Classifier {
	permanent := slices.Clone(codes)
	return func(outcome types.SendOutcome, err error) bool {
		if err != nil || outcome.Accepted {
			return false
		}
		return slices.Contains(permanent, outcome.StatusCode)
	}
}

// ClassifierFromConfig returns StatusCodeClassifier when permanent codes are
// configured and TransientClassifier otherwise.
func ClassifierFromConfig(cfg config.DispatchConfig) Classifier {
	if len(cfg.PermanentStatusCodes) == 0 {
		return TransientClassifier
	}
	return StatusCodeClassifier(cfg.PermanentStatusCodes...)
}
