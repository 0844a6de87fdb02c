package resolver

import "errors"

// Sentinel errors returned by Repository implementations.
var (
	// ErrNoMapping indicates no visible patient owns the queried identity.
	ErrNoMapping = errors.New("no patient mapping for device identity")

	// ErrAmbiguousGateway indicates more than one patient claims the
	// gateway MAC, so the fallback cannot pick one.
	ErrAmbiguousGateway = errors.New("gateway mac maps to multiple patients")

	// ErrDuplicateCitiz indicates a concurrent writer already provisioned
	// a patient for the citizen ID.
	ErrDuplicateCitiz = errors.New("citizen id already provisioned")
)
