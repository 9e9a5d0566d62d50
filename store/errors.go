package store

import "errors"

var (
	ErrBatchNotExist     = errors.New("batch doesn't exist")
	ErrIdentifierUnknown = errors.New("identifier isn't part of any batch")
	ErrNotYetAttested    = errors.New("batch holds no resolved attestation yet")
	ErrAlreadyAttested   = errors.New("batch already holds an attestation")
	ErrAttestedRoot      = errors.New("attestation root doesn't match the batch root")
	ErrBatchMismatch     = errors.New("identifiers and documents differ in length")
)
