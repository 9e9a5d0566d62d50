package arcstamp

import (
	"github.com/pkg/errors"
)

var (
	//input errors, rejected immediately and never coerced
	ErrEmptyDocument     = errors.New("document holds no file entries")
	ErrDuplicateFilename = errors.New("document holds multiple entries for the same filename")
	ErrEmptyBatch        = errors.New("batch holds no leaves")
	ErrLeafOutOfRange    = errors.New("leaf index is outside of the batch")

	//proof integrity errors, terminal for the verification call
	ErrLeafMismatch  = errors.New("document digest doesn't match the proven leaf")
	ErrPathMismatch  = errors.New("authentication path doesn't reproduce the attested root")
	ErrChainMismatch = errors.New("attested block doesn't match the chain view")

	//liveness errors, the proof may be fine but cannot be checked right now
	ErrUnverifiable       = errors.New("chain view cannot reach the attested block")
	ErrAttestationPending = errors.New("attestation is still pending upstream")

	//policy errors, an externally supplied trust assumption failed
	ErrOutOfOrder     = errors.New("from-proof was attested after the to-proof")
	ErrSecurityWindow = errors.New("algorithm security window ends before the to-proof attestation")

	//ErrBlockNotFound is returned by chain views when no block exists at the
	//requested height
	ErrBlockNotFound = errors.New("no block at the requested height")

	//ErrMalformedAttestation is returned when attestation bytes do not follow
	//the wire format
	ErrMalformedAttestation = errors.New("malformed attestation bytes")
)

//IsIntegrity returns whether the error represents a cryptographic mismatch
//that retrying can never fix
func IsIntegrity(err error) bool {
	switch errors.Cause(err) {
	case ErrLeafMismatch, ErrPathMismatch, ErrChainMismatch:
		return true
	}

	return false
}

//IsTransient returns whether the error only means the proof couldn't be
//checked right now and the caller may retry with backoff
func IsTransient(err error) bool {
	switch errors.Cause(err) {
	case ErrUnverifiable, ErrAttestationPending:
		return true
	}

	return false
}

//IsPolicy returns whether the error represents a failing trust assumption
//instead of a cryptographic failure
func IsPolicy(err error) bool {
	switch errors.Cause(err) {
	case ErrOutOfOrder, ErrSecurityWindow:
		return true
	}

	return false
}
