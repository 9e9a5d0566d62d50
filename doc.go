// Package arcstamp anchors large batches of per-file digest records to the
// bitcoin blockchain through a single merkle commitment and proves membership
// of any individual record without shipping the rest of the batch.
//
// The write path canonicalizes each identifier's digest document into a leaf,
// aggregates all leaves of a batch into a merkle tree and submits the root to
// one or more calendar services that eventually return a bitcoin block
// attestation. The read path extracts a minimal standalone proof for one leaf
// and verifies it against a trusted view of the chain. A proof made with a
// newer hash algorithm can inherit the timestamp of an older attestation of
// the same data, as long as the older algorithm is asserted secure for the
// interval between the two attestations.
package arcstamp
