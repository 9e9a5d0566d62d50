package arcstamp

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

//digest sizes of the algorithms that may appear in a file entry
const (
	SHA1Size  = 20
	MD5Size   = 16
	CRC32Size = 4
)

//DigestSize is the size of a leaf digest
const DigestSize = sha256.Size

//presence flags in the canonical serialization, an absent digest is flagged
//instead of zero-filled so "unknown" can never collide with a literal zero
const (
	flagSHA1 byte = 1 << iota
	flagMD5
	flagCRC32
)

//FileEntry records the digests of a single file under an identifier. At least
//one digest must be present, a nil digest means unknown.
type FileEntry struct {
	Filename string
	SHA1     []byte
	MD5      []byte
	CRC32    []byte
}

//Validate the entry's filename and digest widths
func (e *FileEntry) Validate() (err error) {
	if e.Filename == "" {
		return errors.New("entry has an empty filename")
	}

	if strings.ContainsAny(e.Filename, ",\n\x00") {
		return fmt.Errorf("filename %q contains a comma, newline or NUL byte", e.Filename)
	}

	if e.SHA1 == nil && e.MD5 == nil && e.CRC32 == nil {
		return fmt.Errorf("entry %q carries no digest at all", e.Filename)
	}

	if e.SHA1 != nil && len(e.SHA1) != SHA1Size {
		return fmt.Errorf("entry %q has a sha1 of %d bytes, expected %d", e.Filename, len(e.SHA1), SHA1Size)
	}

	if e.MD5 != nil && len(e.MD5) != MD5Size {
		return fmt.Errorf("entry %q has an md5 of %d bytes, expected %d", e.Filename, len(e.MD5), MD5Size)
	}

	if e.CRC32 != nil && len(e.CRC32) != CRC32Size {
		return fmt.Errorf("entry %q has a crc32 of %d bytes, expected %d", e.Filename, len(e.CRC32), CRC32Size)
	}

	return nil
}

//Document is the ordered digest record of one identifier. Entries are kept
//sorted by filename using byte-wise comparison so the same set of entries
//always serializes to the same bytes regardless of collection order.
type Document struct {
	entries []*FileEntry
}

//NewDocument validates the entries and fixes their order. The provided slice
//is not retained.
func NewDocument(entries ...*FileEntry) (d *Document, err error) {
	if len(entries) < 1 {
		return nil, ErrEmptyDocument
	}

	d = &Document{entries: make([]*FileEntry, len(entries))}
	copy(d.entries, entries)
	for _, e := range d.entries {
		if err = e.Validate(); err != nil {
			return nil, err
		}
	}

	sort.Slice(d.entries, func(i, j int) bool {
		return d.entries[i].Filename < d.entries[j].Filename
	})

	for i := 1; i < len(d.entries); i++ {
		if d.entries[i].Filename == d.entries[i-1].Filename {
			return nil, errors.Wrap(ErrDuplicateFilename, d.entries[i].Filename)
		}
	}

	return d, nil
}

//Len returns the nr of file entries
func (d *Document) Len() int { return len(d.entries) }

//Entries returns the entries in canonical order, callers must not modify them
func (d *Document) Entries() []*FileEntry { return d.entries }

//Canonical returns the deterministic serialization that the leaf digest
//commits to: for each entry in filename order the filename, a NUL separator,
//a presence flag byte and the fixed-width digests that are present.
func (d *Document) Canonical() []byte {
	buf := bytes.NewBuffer(nil)
	for _, e := range d.entries {
		buf.WriteString(e.Filename)
		buf.WriteByte(0x00)

		var flags byte
		if e.SHA1 != nil {
			flags |= flagSHA1
		}

		if e.MD5 != nil {
			flags |= flagMD5
		}

		if e.CRC32 != nil {
			flags |= flagCRC32
		}

		buf.WriteByte(flags)
		buf.Write(e.SHA1)
		buf.Write(e.MD5)
		buf.Write(e.CRC32)
	}

	return buf.Bytes()
}

//Digest returns the leaf digest that commits the document into a batch
func (d *Document) Digest() (lh [DigestSize]byte) {
	return sha256.Sum256(d.Canonical())
}

//Text renders the document in its distributable plain-text form: one line per
//entry with comma separated hex digests, absent digests left empty. Parsing
//the result back yields an identical document.
func (d *Document) Text() string {
	buf := bytes.NewBuffer(nil)
	for _, e := range d.entries {
		fmt.Fprintf(buf, "%s,%s,%s,%s\n",
			e.Filename,
			hex.EncodeToString(e.SHA1),
			hex.EncodeToString(e.MD5),
			hex.EncodeToString(e.CRC32))
	}

	return buf.String()
}

//ParseDocument reads the plain-text form back into a document
func ParseDocument(s string) (d *Document, err error) {
	var entries []*FileEntry
	for i, line := range strings.Split(s, "\n") {
		if line == "" {
			continue //trailing newline
		}

		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d holds %d fields, expected 4", i+1, len(fields))
		}

		e := &FileEntry{Filename: fields[0]}
		if e.SHA1, err = decodeField(fields[1], SHA1Size); err != nil {
			return nil, errors.Wrapf(err, "line %d sha1", i+1)
		}

		if e.MD5, err = decodeField(fields[2], MD5Size); err != nil {
			return nil, errors.Wrapf(err, "line %d md5", i+1)
		}

		if e.CRC32, err = decodeField(fields[3], CRC32Size); err != nil {
			return nil, errors.Wrapf(err, "line %d crc32", i+1)
		}

		entries = append(entries, e)
	}

	return NewDocument(entries...)
}

func decodeField(s string, size int) (b []byte, err error) {
	if s == "" {
		return nil, nil
	}

	if b, err = hex.DecodeString(s); err != nil {
		return nil, err
	}

	if len(b) != size {
		return nil, fmt.Errorf("decoded to %d bytes, expected %d", len(b), size)
	}

	return b, nil
}
