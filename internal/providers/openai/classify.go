package openai

import (
	"github.com/mhingston/switchboard/internal/providers"
)

// ClassifyError maps a transport-level error to the four-kind taxonomy C4
// requires. Grounded on the teacher's status-code switch, extended with the
// QUOTA_EXCEEDED kind (HTTP 402, and 429 bodies naming a quota rather than a
// rate limit) the spec adds.
func (a *Adapter) ClassifyError(err error) *providers.ClassifiedError {
	se, ok := providers.AsStatusError(err)
	if !ok {
		return &providers.ClassifiedError{Kind: providers.Permanent, Err: err}
	}

	switch {
	case se.StatusCode == 429 && se.HasSentinel("quota"):
		return &providers.ClassifiedError{Kind: providers.QuotaExceeded, Err: se}
	case se.StatusCode == 429:
		return &providers.ClassifiedError{
			Kind:         providers.RateLimit,
			RetryAfterMs: int64(se.RetryAfterSecs) * 1000,
			Err:          se,
		}
	case se.StatusCode == 402:
		return &providers.ClassifiedError{Kind: providers.QuotaExceeded, Err: se}
	case se.StatusCode >= 500:
		return &providers.ClassifiedError{Kind: providers.Transient, Err: se}
	case se.HasSentinel(providers.ContextLengthExceeded):
		return &providers.ClassifiedError{
			Kind:     providers.Permanent,
			Sentinel: providers.ContextLengthExceeded,
			Err:      se,
		}
	default:
		return &providers.ClassifiedError{Kind: providers.Permanent, Err: se}
	}
}
