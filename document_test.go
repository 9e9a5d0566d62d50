package arcstamp_test

import (
	"bytes"
	"testing"

	"github.com/advanderveer/go-test"
	"github.com/arcstamp/arcstamp"
)

func testEntry(name string, b byte) *arcstamp.FileEntry {
	return &arcstamp.FileEntry{
		Filename: name,
		SHA1:     bytes.Repeat([]byte{b}, arcstamp.SHA1Size),
		MD5:      bytes.Repeat([]byte{b}, arcstamp.MD5Size),
		CRC32:    bytes.Repeat([]byte{b}, arcstamp.CRC32Size),
	}
}

func TestDocumentCanonicalization(t *testing.T) {
	e1 := testEntry("a.mp4", 0x01)
	e2 := testEntry("b.mp4", 0x02)
	e3 := &arcstamp.FileEntry{Filename: "c.srt", SHA1: bytes.Repeat([]byte{0x03}, arcstamp.SHA1Size)}

	d1, err := arcstamp.NewDocument(e1, e2, e3)
	test.Ok(t, err)

	t.Run("permutations yield the same digest", func(t *testing.T) {
		d2, err := arcstamp.NewDocument(e3, e1, e2)
		test.Ok(t, err)
		d3, err := arcstamp.NewDocument(e2, e3, e1)
		test.Ok(t, err)

		test.Equals(t, d1.Digest(), d2.Digest())
		test.Equals(t, d1.Digest(), d3.Digest())
		test.Equals(t, d1.Canonical(), d2.Canonical())
	})

	t.Run("single byte change flips the digest", func(t *testing.T) {
		mod := testEntry("a.mp4", 0x01)
		mod.SHA1 = append([]byte(nil), mod.SHA1...)
		mod.SHA1[7] ^= 0x01

		d2, err := arcstamp.NewDocument(mod, e2, e3)
		test.Ok(t, err)
		test.Assert(t, d1.Digest() != d2.Digest(), "flipped sha1 byte should change the digest")
	})

	t.Run("absent digest differs from zero digest", func(t *testing.T) {
		zero := &arcstamp.FileEntry{Filename: "z", SHA1: make([]byte, arcstamp.SHA1Size), MD5: make([]byte, arcstamp.MD5Size)}
		absent := &arcstamp.FileEntry{Filename: "z", SHA1: make([]byte, arcstamp.SHA1Size)}

		d2, err := arcstamp.NewDocument(zero)
		test.Ok(t, err)
		d3, err := arcstamp.NewDocument(absent)
		test.Ok(t, err)
		test.Assert(t, d2.Digest() != d3.Digest(), "presence flag should separate unknown from literal zero")
	})
}

func TestDocumentErrors(t *testing.T) {
	_, err := arcstamp.NewDocument()
	test.Equals(t, arcstamp.ErrEmptyDocument, err)

	_, err = arcstamp.NewDocument(testEntry("a", 0x01), testEntry("a", 0x02))
	test.Assert(t, err != nil, "duplicate filename should be rejected")

	_, err = arcstamp.NewDocument(&arcstamp.FileEntry{Filename: "a"})
	test.Assert(t, err != nil, "entry without any digest should be rejected")

	_, err = arcstamp.NewDocument(&arcstamp.FileEntry{Filename: "a", SHA1: []byte{0x01}})
	test.Assert(t, err != nil, "short sha1 should be rejected")

	_, err = arcstamp.NewDocument(&arcstamp.FileEntry{Filename: "a,b", SHA1: bytes.Repeat([]byte{0x01}, arcstamp.SHA1Size)})
	test.Assert(t, err != nil, "comma in filename should be rejected")
}

func TestDocumentTextRoundTrip(t *testing.T) {
	d1, err := arcstamp.NewDocument(
		testEntry("video.mp4", 0x0a),
		&arcstamp.FileEntry{Filename: "meta.xml", MD5: bytes.Repeat([]byte{0x0b}, arcstamp.MD5Size)},
	)
	test.Ok(t, err)

	d2, err := arcstamp.ParseDocument(d1.Text())
	test.Ok(t, err)
	test.Equals(t, d1.Digest(), d2.Digest())
	test.Equals(t, d1.Text(), d2.Text())

	t.Run("malformed text", func(t *testing.T) {
		_, err := arcstamp.ParseDocument("only,three,fields\n")
		test.Assert(t, err != nil, "wrong field count should fail")

		_, err = arcstamp.ParseDocument("f,nothex,,\n")
		test.Assert(t, err != nil, "bad hex should fail")

		_, err = arcstamp.ParseDocument("f,abcd,,\n")
		test.Assert(t, err != nil, "wrong digest width should fail")

		_, err = arcstamp.ParseDocument("\n")
		test.Equals(t, arcstamp.ErrEmptyDocument, err)
	})
}
