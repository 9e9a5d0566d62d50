package arcstamp

import (
	"bytes"

	"github.com/pkg/errors"
)

//Proof is the minimal standalone evidence that a single document is part of
//an attested batch: the document's leaf digest, the authentication path to
//the root and the attestation of that root. It is verifiable without access
//to the rest of the batch.
type Proof struct {
	LeafDigest [DigestSize]byte
	Path       []PathStep
	Att        *Attestation
}

//Root recomputes the root committed by the leaf digest and path
func (p *Proof) Root() [DigestSize]byte {
	return VerifyPath(p.LeafDigest, p.Path)
}

//Encode serializes the proof as a standalone artifact: header, leaf digest
//and the authentication path replayed as append/prepend/sha256 operations so
//the path walk is spelled out on the wire, terminated by the attestation
//record.
func (p *Proof) Encode() ([]byte, error) {
	if p.Att == nil {
		return nil, errors.Wrap(ErrAttestationPending, "proof holds no attestation")
	}

	buf := bytes.NewBuffer(nil)
	buf.Write(headerMagic)
	writeVarInt(buf, wireVersion)
	buf.WriteByte(tagSHA256)
	buf.Write(p.LeafDigest[:])

	//the leaf is committed in its own hash domain
	buf.WriteByte(tagPrepend)
	writeVarBytes(buf, []byte{0x00})
	buf.WriteByte(tagSHA256)

	for _, step := range p.Path {
		if step.Side == Left {
			buf.WriteByte(tagPrepend)
		} else {
			buf.WriteByte(tagAppend)
		}

		writeVarBytes(buf, step.Sibling[:])
		buf.WriteByte(tagPrepend)
		writeVarBytes(buf, []byte{0x01})
		buf.WriteByte(tagSHA256)
	}

	writeAttestRecord(buf, p.Att)
	return buf.Bytes(), nil
}

//DecodeProof parses a standalone proof artifact. The attested root comes out
//of the attestation record, not out of the operations, so tampering with a
//sibling on the wire yields a proof whose path no longer reproduces the
//attested root.
func DecodeProof(b []byte) (p *Proof, err error) {
	r, err := newWireReader(b)
	if err != nil {
		return nil, err
	}

	p = &Proof{}
	if err = r.readDigest(&p.LeafDigest); err != nil {
		return nil, err
	}

	if err = r.readDomainGroup(0x00); err != nil {
		return nil, err
	}

	for {
		tag, err := r.peekByte()
		if err != nil {
			return nil, err
		}

		if tag == tagAttest {
			break
		}

		if _, err = r.readByte(); err != nil {
			return nil, err
		}

		if tag != tagAppend && tag != tagPrepend {
			return nil, errors.Wrapf(ErrMalformedAttestation, "unexpected operation tag 0x%02x", tag)
		}

		sibling, err := r.readVarBytes()
		if err != nil {
			return nil, err
		}

		if len(sibling) != DigestSize {
			return nil, errors.Wrapf(ErrMalformedAttestation, "sibling of %d bytes, expected %d", len(sibling), DigestSize)
		}

		step := PathStep{Side: Right}
		if tag == tagPrepend {
			step.Side = Left
		}

		copy(step.Sibling[:], sibling)
		if err = r.readDomainGroup(0x01); err != nil {
			return nil, err
		}

		p.Path = append(p.Path, step)
	}

	if p.Att, err = r.readAttestRecord(); err != nil {
		return nil, err
	}

	if !r.empty() {
		return nil, errors.Wrap(ErrMalformedAttestation, "trailing bytes after attestation record")
	}

	return p, nil
}

//readDomainGroup expects the prepended domain separation byte followed by a
//sha256 operation
func (r *wireReader) readDomainGroup(domain byte) (err error) {
	if err = r.readTag(tagPrepend); err != nil {
		return err
	}

	b, err := r.readVarBytes()
	if err != nil {
		return err
	}

	if len(b) != 1 || b[0] != domain {
		return errors.Wrapf(ErrMalformedAttestation, "expected domain prefix 0x%02x", domain)
	}

	return r.readTag(tagSHA256)
}
