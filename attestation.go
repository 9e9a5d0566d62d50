package arcstamp

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

//ChainBitcoin is the only chain attestations are anchored in
const ChainBitcoin = "bitcoin"

//header magic identifying our attestation files, followed by a version varint
var headerMagic = []byte("\x00ArcStamp\x00\x00Proof\x00")

const wireVersion = 1

//operation and record tags of the wire format
const (
	tagSHA256  byte = 0x08
	tagAppend  byte = 0xf0
	tagPrepend byte = 0xf1
	tagAttest  byte = 0x00
)

//8-byte attestation type tags
var (
	typeBitcoin = []byte{0x05, 0x88, 0x96, 0x0d, 0x73, 0xd7, 0x19, 0x01}
	typePending = []byte{0x83, 0xdf, 0xe3, 0x0d, 0x2e, 0xf9, 0x0c, 0x8e}
)

//Attestation is an independently checkable claim that a root digest existed
//at or before a specific bitcoin block. It is produced by external calendar
//services, this package only parses, stores and verifies it.
type Attestation struct {
	//Root is the digest the bitcoin block attests
	Root [DigestSize]byte

	//Chain is always "bitcoin"
	Chain string

	//BlockHeight of the attesting block
	BlockHeight int64

	//BlockHash of the attesting block, in chainhash byte order
	BlockHash [DigestSize]byte

	//BlockTime of the attesting block header, unix seconds
	BlockTime int64

	//TxProof optionally carries the opaque path from the root to the
	//commitment embedded in the block, it is round-tripped untouched
	TxProof []byte
}

//Encode serializes the attestation as a batch artifact: header, the attested
//root as file digest and a single bitcoin attestation record
func (a *Attestation) Encode() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(headerMagic)
	writeVarInt(buf, wireVersion)
	buf.WriteByte(tagSHA256)
	buf.Write(a.Root[:])
	writeAttestRecord(buf, a)
	return buf.Bytes()
}

//EncodePending serializes the pending marker a calendar hands out before a
//bitcoin block anchors the digest
func EncodePending(digest [DigestSize]byte, calendar string) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(headerMagic)
	writeVarInt(buf, wireVersion)
	buf.WriteByte(tagSHA256)
	buf.Write(digest[:])
	buf.WriteByte(tagAttest)
	buf.Write(typePending)
	writeVarBytes(buf, []byte(calendar))
	return buf.Bytes()
}

//Resolve parses previously obtained attestation bytes without any network
//access. It returns ErrAttestationPending if the bytes only hold a pending
//marker and ErrMalformedAttestation if they don't follow the wire format.
func Resolve(b []byte) (a *Attestation, err error) {
	r, err := newWireReader(b)
	if err != nil {
		return nil, err
	}

	var digest [DigestSize]byte
	if err = r.readDigest(&digest); err != nil {
		return nil, err
	}

	a, err = r.readAttestRecord()
	if err != nil {
		return nil, err
	}

	if !r.empty() {
		return nil, errors.Wrap(ErrMalformedAttestation, "trailing bytes after attestation record")
	}

	if a.Root != digest {
		return nil, errors.Wrap(ErrMalformedAttestation, "attested root differs from the file digest")
	}

	return a, nil
}

//writeAttestRecord writes the bitcoin attestation record. The attested root
//is part of the record itself so verification can compare a recomputed root
//against the attested one instead of trusting whatever the operations in the
//artifact happen to produce.
func writeAttestRecord(buf *bytes.Buffer, a *Attestation) {
	payload := bytes.NewBuffer(nil)
	writeVarInt(payload, uint64(a.BlockHeight))
	payload.Write(a.BlockHash[:])
	writeVarInt(payload, uint64(a.BlockTime))
	payload.Write(a.Root[:])
	payload.Write(a.TxProof)

	buf.WriteByte(tagAttest)
	buf.Write(typeBitcoin)
	writeVarBytes(buf, payload.Bytes())
}

//wireReader walks attestation bytes after validating the header
type wireReader struct {
	b []byte
}

func newWireReader(b []byte) (r *wireReader, err error) {
	if len(b) < len(headerMagic)+1 || !bytes.Equal(b[:len(headerMagic)], headerMagic) {
		return nil, errors.Wrap(ErrMalformedAttestation, "missing header magic")
	}

	r = &wireReader{b: b[len(headerMagic):]}
	version, err := r.readVarInt()
	if err != nil {
		return nil, err
	}

	if version != wireVersion {
		return nil, errors.Wrapf(ErrMalformedAttestation, "unsupported version %d", version)
	}

	return r, nil
}

func (r *wireReader) empty() bool { return len(r.b) == 0 }

func (r *wireReader) readByte() (byte, error) {
	if len(r.b) < 1 {
		return 0, errors.Wrap(ErrMalformedAttestation, "unexpected end of bytes")
	}

	b := r.b[0]
	r.b = r.b[1:]
	return b, nil
}

func (r *wireReader) peekByte() (byte, error) {
	if len(r.b) < 1 {
		return 0, errors.Wrap(ErrMalformedAttestation, "unexpected end of bytes")
	}

	return r.b[0], nil
}

func (r *wireReader) readTag(tag byte) error {
	b, err := r.readByte()
	if err != nil {
		return err
	}

	if b != tag {
		return errors.Wrapf(ErrMalformedAttestation, "read tag 0x%02x, expected 0x%02x", b, tag)
	}

	return nil
}

//readDigest expects the sha256 file digest that opens every artifact
func (r *wireReader) readDigest(digest *[DigestSize]byte) (err error) {
	if err = r.readTag(tagSHA256); err != nil {
		return err
	}

	if len(r.b) < DigestSize {
		return errors.Wrap(ErrMalformedAttestation, "truncated digest")
	}

	copy(digest[:], r.b[:DigestSize])
	r.b = r.b[DigestSize:]
	return nil
}

func (r *wireReader) readVarInt() (n uint64, err error) {
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}

		if shift > 63 {
			return 0, errors.Wrap(ErrMalformedAttestation, "varint overflows 64 bits")
		}

		n |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return n, nil
		}

		shift += 7
	}
}

func (r *wireReader) readVarBytes() (b []byte, err error) {
	n, err := r.readVarInt()
	if err != nil {
		return nil, err
	}

	if uint64(len(r.b)) < n {
		return nil, errors.Wrap(ErrMalformedAttestation, "truncated var bytes")
	}

	b = r.b[:n]
	r.b = r.b[n:]
	return b, nil
}

//readAttestRecord reads the attestation record that terminates an artifact
func (r *wireReader) readAttestRecord() (a *Attestation, err error) {
	if err = r.readTag(tagAttest); err != nil {
		return nil, err
	}

	if len(r.b) < len(typeBitcoin) {
		return nil, errors.Wrap(ErrMalformedAttestation, "truncated attestation type tag")
	}

	typ := r.b[:len(typeBitcoin)]
	r.b = r.b[len(typeBitcoin):]

	payload, err := r.readVarBytes()
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.Equal(typ, typePending):
		return nil, errors.Wrap(ErrAttestationPending, string(payload))
	case bytes.Equal(typ, typeBitcoin):
	default:
		return nil, errors.Wrapf(ErrMalformedAttestation, "unknown attestation type %x", typ)
	}

	pr := &wireReader{b: payload}
	a = &Attestation{Chain: ChainBitcoin}
	height, err := pr.readVarInt()
	if err != nil {
		return nil, err
	}

	a.BlockHeight = int64(height)
	if len(pr.b) < DigestSize {
		return nil, errors.Wrap(ErrMalformedAttestation, "truncated block hash")
	}

	copy(a.BlockHash[:], pr.b[:DigestSize])
	pr.b = pr.b[DigestSize:]

	btime, err := pr.readVarInt()
	if err != nil {
		return nil, err
	}

	a.BlockTime = int64(btime)
	if len(pr.b) < DigestSize {
		return nil, errors.Wrap(ErrMalformedAttestation, "truncated root digest")
	}

	copy(a.Root[:], pr.b[:DigestSize])
	pr.b = pr.b[DigestSize:]

	if len(pr.b) > 0 {
		a.TxProof = append([]byte(nil), pr.b...)
	}

	return a, nil
}

func writeVarInt(buf *bytes.Buffer, n uint64) {
	for n >= 0x80 {
		buf.WriteByte(byte(n) | 0x80)
		n >>= 7
	}

	buf.WriteByte(byte(n))
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeVarInt(buf, uint64(len(b)))
	buf.Write(b)
}

func (a *Attestation) String() string {
	return fmt.Sprintf("%s block %d (time %d)", a.Chain, a.BlockHeight, a.BlockTime)
}
