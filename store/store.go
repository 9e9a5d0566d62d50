//Package store owns the durable batch records: for every aggregation it keeps
//the ordered identifiers, the contiguous leaf digest arena, the canonical
//document texts and, once resolved, the attestation bytes. Batches are
//append-only: written once at creation, never edited, only superseded by a
//newer batch with a new root.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sync"
	"time"

	"github.com/arcstamp/arcstamp"
	"github.com/dgraph-io/badger"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/pkg/errors"
)

//key prefixes, the remainder of the key is the big-endian batch id and, for
//documents, the big-endian leaf index
const (
	prefixBatch byte = 0x00
	prefixAtt   byte = 0x01
	prefixDoc   byte = 0x02
)

//Batch is the append-only record of one aggregation
type Batch struct {
	ID        uint64
	CreatedAt int64

	//Identifiers in the order their leaves were aggregated
	Identifiers []string

	//Leaves is the arena of contiguous 32-byte leaf digests, addressed by index
	Leaves []byte
}

//Len returns the nr of leaves in the batch
func (b *Batch) Len() int { return len(b.Leaves) / arcstamp.DigestSize }

//Leaf returns the leaf digest at index i
func (b *Batch) Leaf(i int) (lh [arcstamp.DigestSize]byte, err error) {
	if i < 0 || i >= b.Len() {
		return lh, arcstamp.ErrLeafOutOfRange
	}

	copy(lh[:], b.Leaves[i*arcstamp.DigestSize:])
	return lh, nil
}

//Tree rebuilds the merkle tree over the batch's leaf arena
func (b *Batch) Tree() (t *arcstamp.Tree, err error) {
	leaves := make([][arcstamp.DigestSize]byte, b.Len())
	for i := range leaves {
		if leaves[i], err = b.Leaf(i); err != nil {
			return nil, err
		}
	}

	return arcstamp.NewTree(leaves...)
}

//Ref locates one identifier's leaf
type Ref struct {
	Batch uint64
	Index int
}

//Store persists batches in a badger database and keeps an immutable radix
//index from identifier to its most recent batch and leaf index. The index is
//swapped atomically so readers always observe a consistent snapshot while a
//new batch is being appended.
type Store struct {
	db   *badger.DB
	logs *log.Logger

	mu  sync.RWMutex
	idx *iradix.Tree
	max uint64 //highest batch id seen
}

//NewStore opens or creates the store in the given directory and rebuilds the
//identifier index from the stored batches
func NewStore(dir string, logw io.Writer) (s *Store, err error) {
	s = &Store{logs: log.New(logw, "", 0), idx: iradix.New()}

	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	s.db, err = badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open batch database")
	}

	if err = s.Each(func(b *Batch) error {
		s.index(b)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "failed to rebuild identifier index")
	}

	return s, nil
}

//Close releases the underlying database
func (s *Store) Close() (err error) { return s.db.Close() }

//index registers all identifiers of a batch, newer batches supersede older
//entries for the same identifier
func (s *Store) index(b *Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID > s.max {
		s.max = b.ID
	}

	txn := s.idx.Txn()
	for i, id := range b.Identifiers {
		txn.Insert([]byte(id), &Ref{Batch: b.ID, Index: i})
	}

	s.idx = txn.Commit()
}

//Lookup finds the most recent batch and leaf index for an identifier
func (s *Store) Lookup(identifier string) (ref *Ref, err error) {
	s.mu.RLock()
	idx := s.idx
	s.mu.RUnlock()

	v, ok := idx.Get([]byte(identifier))
	if !ok {
		return nil, errors.Wrap(ErrIdentifierUnknown, identifier)
	}

	return v.(*Ref), nil
}

//Append creates a new batch from the identifiers and their documents, in the
//given order. It computes the leaf arena, stores the batch record and every
//document's canonical text in one transaction and only then publishes the
//identifiers in the index. Prior batches are never touched.
func (s *Store) Append(identifiers []string, docs []*arcstamp.Document) (b *Batch, err error) {
	if len(identifiers) != len(docs) {
		return nil, ErrBatchMismatch
	}

	if len(identifiers) < 1 {
		return nil, arcstamp.ErrEmptyBatch
	}

	//reserve the next monotonic batch id, batches are single-writer-at-creation
	s.mu.Lock()
	s.max++
	next := s.max
	s.mu.Unlock()

	b = &Batch{
		ID:          next,
		CreatedAt:   time.Now().Unix(),
		Identifiers: identifiers,
		Leaves:      make([]byte, 0, len(docs)*arcstamp.DigestSize),
	}

	for _, d := range docs {
		lh := d.Digest()
		b.Leaves = append(b.Leaves, lh[:]...)
	}

	buf := bytes.NewBuffer(nil)
	if err = gob.NewEncoder(buf).Encode(b); err != nil {
		return nil, errors.Wrap(err, "failed to encode batch record")
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err = tx.Set(batchKey(b.ID), buf.Bytes()); err != nil {
		return nil, errors.Wrap(err, "failed to set batch record")
	}

	for i, d := range docs {
		if err = tx.Set(docKey(b.ID, i), []byte(d.Text())); err != nil {
			return nil, errors.Wrap(err, "failed to set document text")
		}
	}

	if err = tx.Commit(nil); err != nil {
		return nil, errors.Wrap(err, "failed to commit batch")
	}

	s.index(b)
	s.logs.Printf("[INFO] appended batch %d with %d leaves", b.ID, b.Len())
	return b, nil
}

//Batch reads a batch record by id
func (s *Store) Batch(id uint64) (b *Batch, err error) {
	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	it, err := tx.Get(batchKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrBatchNotExist
		}

		return nil, errors.Wrap(err, "failed to get batch record")
	}

	d, err := it.Value()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read batch record")
	}

	b = &Batch{}
	if err = gob.NewDecoder(bytes.NewReader(d)).Decode(b); err != nil {
		return nil, errors.Wrap(err, "failed to decode batch record")
	}

	return b, nil
}

//Each calls f for every stored batch in ascending id order
func (s *Store) Each(f func(b *Batch) error) (err error) {
	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	opt := badger.DefaultIteratorOptions
	iter := tx.NewIterator(opt)
	defer iter.Close()

	prefix := []byte{prefixBatch}
	for iter.Seek(prefix); iter.Valid(); iter.Next() {
		item := iter.Item()
		if !bytes.HasPrefix(item.Key(), prefix) {
			break
		}

		d, err := item.Value()
		if err != nil {
			return errors.Wrap(err, "failed to read batch record")
		}

		b := &Batch{}
		if err = gob.NewDecoder(bytes.NewReader(d)).Decode(b); err != nil {
			return errors.Wrap(err, "failed to decode batch record")
		}

		if err = f(b); err != nil {
			return err
		}
	}

	return nil
}

//Document reads the canonical text of the leaf at index i back into a document
func (s *Store) Document(id uint64, i int) (d *arcstamp.Document, err error) {
	b, err := s.Batch(id)
	if err != nil {
		return nil, err
	}

	if i < 0 || i >= b.Len() {
		return nil, arcstamp.ErrLeafOutOfRange
	}

	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	it, err := tx.Get(docKey(id, i))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get document text")
	}

	raw, err := it.Value()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read document text")
	}

	if d, err = arcstamp.ParseDocument(string(raw)); err != nil {
		return nil, errors.Wrap(err, "failed to parse stored document text")
	}

	return d, nil
}

//SetAttestation attaches resolved attestation bytes to a batch, exactly once.
//The bytes must parse as a complete attestation whose root equals the batch's
//recomputed tree root, a pending marker is rejected as-is.
func (s *Store) SetAttestation(id uint64, raw []byte) (err error) {
	att, err := arcstamp.Resolve(raw)
	if err != nil {
		return err
	}

	b, err := s.Batch(id)
	if err != nil {
		return err
	}

	t, err := b.Tree()
	if err != nil {
		return err
	}

	if att.Root != t.Root() {
		return ErrAttestedRoot
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if _, err = tx.Get(attKey(id)); err != badger.ErrKeyNotFound {
		if err != nil {
			return errors.Wrap(err, "failed to check for existing attestation")
		}

		return ErrAlreadyAttested
	}

	if err = tx.Set(attKey(id), raw); err != nil {
		return errors.Wrap(err, "failed to set attestation bytes")
	}

	if err = tx.Commit(nil); err != nil {
		return errors.Wrap(err, "failed to commit attestation")
	}

	s.logs.Printf("[INFO] attested batch %d at %s", id, att)
	return nil
}

//Attestation reads a batch's attestation, ErrNotYetAttested when none is
//stored
func (s *Store) Attestation(id uint64) (raw []byte, att *arcstamp.Attestation, err error) {
	if _, err = s.Batch(id); err != nil {
		return nil, nil, err
	}

	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	it, err := tx.Get(attKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil, ErrNotYetAttested
		}

		return nil, nil, errors.Wrap(err, "failed to get attestation bytes")
	}

	d, err := it.Value()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read attestation bytes")
	}

	raw = append([]byte(nil), d...)
	if att, err = arcstamp.Resolve(raw); err != nil {
		return nil, nil, err
	}

	return raw, att, nil
}

//Extract derives the minimal standalone proof for the leaf at index i. The
//batch must hold a resolved attestation. Extraction is a read-only
//derivation: repeated calls for the same index yield the same proof.
func (s *Store) Extract(id uint64, i int) (p *arcstamp.Proof, err error) {
	b, err := s.Batch(id)
	if err != nil {
		return nil, err
	}

	lh, err := b.Leaf(i)
	if err != nil {
		return nil, err
	}

	_, att, err := s.Attestation(id)
	if err != nil {
		return nil, err
	}

	t, err := b.Tree()
	if err != nil {
		return nil, err
	}

	path, err := t.Prove(i)
	if err != nil {
		return nil, err
	}

	return &arcstamp.Proof{LeafDigest: lh, Path: path, Att: att}, nil
}

//TempStore returns a temporary store that is fully cleaned up when the
//'clean' func is called. It panics if any operation fails so it is mostly
//used for testing purposes.
func TempStore() (s *Store, clean func()) {
	dir, err := ioutil.TempDir("", "arcstamp_")
	if err != nil {
		panic("failed to create tempdir: " + err.Error())
	}

	s, err = NewStore(dir, ioutil.Discard)
	if err != nil {
		panic("failed to create store: " + err.Error())
	}

	return s, func() {
		err = os.RemoveAll(dir)
		if err != nil {
			panic("failed to remove dir: " + err.Error())
		}
	}
}

func batchKey(id uint64) (k []byte) {
	k = make([]byte, 9)
	k[0] = prefixBatch
	binary.BigEndian.PutUint64(k[1:], id)
	return
}

func attKey(id uint64) (k []byte) {
	k = make([]byte, 9)
	k[0] = prefixAtt
	binary.BigEndian.PutUint64(k[1:], id)
	return
}

func docKey(id uint64, i int) (k []byte) {
	k = make([]byte, 13)
	k[0] = prefixDoc
	binary.BigEndian.PutUint64(k[1:], id)
	binary.BigEndian.PutUint32(k[9:], uint32(i))
	return
}
