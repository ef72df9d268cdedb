package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNormalization means an address reduced to nothing usable.
	ErrNormalization = errors.New("address has nothing left to geocode")

	// ErrNoResults is returned by a Geocoder when the gazetteer has no match.
	ErrNoResults = errors.New("no geocoding results")

	// ErrServiceUnreachable wraps transport-level failures talking to the gazetteer.
	ErrServiceUnreachable = errors.New("geocoding service unreachable")

	// ErrNoNapWithinRadius means no eligible NAP lies inside the radius.
	ErrNoNapWithinRadius = errors.New("no nap within radius")

	// ErrNoCompatibleStreet means NAPs exist inside the radius but none on a compatible street.
	ErrNoCompatibleStreet = errors.New("no nap on a compatible street")

	// ErrZeroCapacity means a NAP has no ports, so its occupancy is undefined.
	ErrZeroCapacity = errors.New("nap has zero total ports")
)

// GeocodeError is a per-address geocoding failure. It is recorded, never fatal.
type GeocodeError struct {
	Reason FailureReason
	Detail string
}

func (e *GeocodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("geocoding failed: %s", e.Reason)
	}
	return fmt.Sprintf("geocoding failed: %s: %s", e.Reason, e.Detail)
}

// Is lets errors.Is(err, ErrNormalization) match a normalization GeocodeError.
func (e *GeocodeError) Is(target error) bool {
	return target == ErrNormalization && e.Reason == ReasonNormalizationFailed
}
