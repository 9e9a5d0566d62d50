package arcstamp

import (
	"context"

	"github.com/pkg/errors"
)

//BlockInfo is the canonical chain data for one block
type BlockInfo struct {
	//Hash of the block, in chainhash byte order
	Hash [DigestSize]byte

	//Time of the block header, unix seconds
	Time int64
}

//ChainView is an external collaborator that can look up canonical chain data
//by block height, typically backed by a local bitcoin node. It must return
//ErrBlockNotFound when it has no block at the height. Reorganizations are not
//resolved here, a caller revalidating after a reorg simply re-runs Verify.
type ChainView interface {
	BlockByHeight(ctx context.Context, height int64) (*BlockInfo, error)
}

//Verified is the successful outcome of a proof verification, the block time
//is the effective existence timestamp of the proven data
type Verified struct {
	BlockHeight int64
	BlockTime   int64
}

//Verify checks that the document's digest matches the proven leaf, that the
//authentication path reproduces the attested root and that the attested
//block is part of the chain view. Integrity failures come back as the
//specific Err*Mismatch sentinel, an unreachable or unsynced chain view as
//ErrUnverifiable: not the same thing, the proof may still be correct.
func Verify(ctx context.Context, p *Proof, d *Document, cv ChainView) (v *Verified, err error) {
	if p.Att == nil {
		return nil, ErrAttestationPending
	}

	if d.Digest() != p.LeafDigest {
		return nil, ErrLeafMismatch
	}

	if p.Root() != p.Att.Root {
		return nil, ErrPathMismatch
	}

	bi, err := cv.BlockByHeight(ctx, p.Att.BlockHeight)
	if err != nil {
		return nil, errors.Wrap(ErrUnverifiable, err.Error())
	}

	if bi.Hash != p.Att.BlockHash {
		return nil, ErrChainMismatch
	}

	return &Verified{BlockHeight: p.Att.BlockHeight, BlockTime: bi.Time}, nil
}
