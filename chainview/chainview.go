//Package chainview provides the trusted chain views that proof verification
//runs against: a bitcoin node's json-rpc interface for real deployments and
//an in-memory view for tests and development. A view only answers "which
//block sits at this height", it never resolves reorganizations itself.
package chainview

import (
	"context"
	"sync"

	"github.com/arcstamp/arcstamp"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/pkg/errors"
)

//Conf holds the bitcoin node connection settings
type Conf struct {
	//Host is the node's rpc address, e.g. localhost:8332
	Host string

	//User and Pass authenticate against the node's rpc interface
	User string
	Pass string
}

//Bitcoin is a chain view backed by a bitcoin node over json-rpc
type Bitcoin struct {
	rpc *rpcclient.Client
}

//NewBitcoin connects to the configured node in http post mode
func NewBitcoin(conf *Conf) (b *Bitcoin, err error) {
	b = &Bitcoin{}
	b.rpc, err = rpcclient.New(&rpcclient.ConnConfig{
		Host:         conf.Host,
		User:         conf.User,
		Pass:         conf.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create rpc client for the bitcoin node")
	}

	return b, nil
}

//Close shuts down the rpc client
func (b *Bitcoin) Close() { b.rpc.Shutdown() }

//BlockByHeight looks up the canonical block at the given height. A node that
//simply doesn't have the block returns ErrBlockNotFound, every other failure
//is passed on for the verifier to treat as unverifiable.
func (b *Bitcoin) BlockByHeight(ctx context.Context, height int64) (bi *arcstamp.BlockInfo, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := b.rpc.GetBlockHash(height)
	if err != nil {
		if _, ok := err.(*btcjson.RPCError); ok {
			return nil, errors.Wrapf(arcstamp.ErrBlockNotFound, "height %d", height)
		}

		return nil, errors.Wrap(err, "cannot get block hash")
	}

	hdr, err := b.rpc.GetBlockHeaderVerbose(hash)
	if err != nil {
		return nil, errors.Wrap(err, "cannot get block header")
	}

	bi = &arcstamp.BlockInfo{Time: hdr.Time}
	copy(bi.Hash[:], hash[:])
	return bi, nil
}

//Mem is an in-memory chain view for tests and development
type Mem struct {
	mu     sync.RWMutex
	blocks map[int64]*arcstamp.BlockInfo
}

//NewMem creates an empty in-memory chain view
func NewMem() *Mem {
	return &Mem{blocks: map[int64]*arcstamp.BlockInfo{}}
}

//Connect adds a block at the given height, replacing any existing one as a
//reorganization would
func (m *Mem) Connect(height int64, hash [arcstamp.DigestSize]byte, time int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[height] = &arcstamp.BlockInfo{Hash: hash, Time: time}
}

//BlockByHeight returns the connected block at the height
func (m *Mem) BlockByHeight(ctx context.Context, height int64) (bi *arcstamp.BlockInfo, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	bi, ok := m.blocks[height]
	if !ok {
		return nil, errors.Wrapf(arcstamp.ErrBlockNotFound, "height %d", height)
	}

	return bi, nil
}
