package arcstamp

import (
	"context"

	"github.com/pkg/errors"
)

//Algo names a digest algorithm in chain inheritance claims
type Algo string

const (
	AlgoSHA1   Algo = "sha1"
	AlgoSHA256 Algo = "sha256"
	AlgoMD5    Algo = "md5"
)

//Policy states until when (unix seconds, inclusive) each algorithm is
//asserted to be secure. It is an explicit caller supplied input, never a
//global: a wrong assumption here silently invalidates chains, so it must be
//visible at every composition site.
type Policy map[Algo]int64

//SecureThrough returns whether the algorithm is asserted secure continuously
//through the given time
func (p Policy) SecureThrough(a Algo, t int64) bool {
	until, ok := p[a]
	return ok && until >= t
}

//ChainLink asserts that the to-proof's subject data is the same underlying
//data as the from-proof's subject, just digested with a different algorithm
//at a later time. The equivalence itself is the caller's claim, carried here
//as the two documents each proof commits to; this engine only checks the
//temporal and security preconditions.
type ChainLink struct {
	FromAlgo Algo
	ToAlgo   Algo

	From    *Proof
	FromDoc *Document

	To    *Proof
	ToDoc *Document
}

//InheritedTimestamp is the outcome of a valid composition: the newer
//algorithm's subject inherits the older attestation's block time
type InheritedTimestamp struct {
	//BlockTime is the effective timestamp, the earlier of the two
	BlockTime int64

	From *Verified
	To   *Verified
}

//Compose validates the trust transfer between two independently verified
//attestations of the same underlying data. It is valid iff both proofs
//verify, the from-attestation is not later than the to-attestation and the
//from-algorithm is asserted secure for the whole interval between them. On
//success the inherited effective timestamp is the from-attestation's block
//time, strictly the value of chaining.
func Compose(ctx context.Context, link *ChainLink, pol Policy, cv ChainView) (it *InheritedTimestamp, err error) {
	from, err := Verify(ctx, link.From, link.FromDoc, cv)
	if err != nil {
		return nil, errors.Wrap(err, "from-proof failed verification")
	}

	to, err := Verify(ctx, link.To, link.ToDoc, cv)
	if err != nil {
		return nil, errors.Wrap(err, "to-proof failed verification")
	}

	if from.BlockTime > to.BlockTime {
		return nil, ErrOutOfOrder
	}

	//the old algorithm must have been unbroken up to and including the moment
	//the new attestation took over
	if !pol.SecureThrough(link.FromAlgo, to.BlockTime) {
		return nil, ErrSecurityWindow
	}

	return &InheritedTimestamp{BlockTime: from.BlockTime, From: from, To: to}, nil
}
