package arcstamp

import (
	"github.com/transparency-dev/merkle/rfc6962"
)

//hasher provides the domain separated leaf (0x00) and internal node (0x01)
//sha256 hashing so a leaf can never be confused with an internal node
var hasher = rfc6962.DefaultHasher

//Side tells on which side of the running digest a path sibling sits
type Side byte

const (
	//Left means the sibling is hashed before the running digest
	Left Side = 0x00

	//Right means the sibling is hashed after the running digest
	Right Side = 0x01
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}

	return "right"
}

//PathStep is a single sibling in an authentication path
type PathStep struct {
	Side    Side
	Sibling [DigestSize]byte
}

//Tree is an immutable binary merkle commitment over an ordered batch of leaf
//digests. An unpaired node at the end of an odd-sized level moves up to the
//next level unchanged, no duplication, so the tree shape is a pure function
//of the leaf count.
type Tree struct {
	levels [][][DigestSize]byte
}

//NewTree aggregates the given leaf digests bottom up. A batch of one leaf is
//valid, a batch of zero leaves is not.
func NewTree(leaves ...[DigestSize]byte) (t *Tree, err error) {
	if len(leaves) < 1 {
		return nil, ErrEmptyBatch
	}

	level := make([][DigestSize]byte, len(leaves))
	for i, l := range leaves {
		level[i] = leafNode(l)
	}

	t = &Tree{levels: [][][DigestSize]byte{level}}
	for len(level) > 1 {
		next := make([][DigestSize]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 >= len(level) {
				next = append(next, level[i]) //unpaired, moves up unchanged
				continue
			}

			next = append(next, innerNode(level[i], level[i+1]))
		}

		t.levels = append(t.levels, next)
		level = next
	}

	return t, nil
}

//Len returns the nr of leaves the tree commits
func (t *Tree) Len() int { return len(t.levels[0]) }

//Root returns the digest that commits the whole batch
func (t *Tree) Root() [DigestSize]byte {
	return t.levels[len(t.levels)-1][0]
}

//Prove returns the authentication path for the leaf at index i: the ordered
//sibling digests from leaf level to root. Levels at which the node was
//unpaired contribute no step, so the path can be shorter than the tree depth.
func (t *Tree) Prove(i int) (path []PathStep, err error) {
	if i < 0 || i >= t.Len() {
		return nil, ErrLeafOutOfRange
	}

	for _, level := range t.levels[:len(t.levels)-1] {
		if i%2 == 1 {
			path = append(path, PathStep{Side: Left, Sibling: level[i-1]})
		} else if i+1 < len(level) {
			path = append(path, PathStep{Side: Right, Sibling: level[i+1]})
		}

		i /= 2
	}

	return path, nil
}

//VerifyPath recomputes the root that the given leaf digest and authentication
//path commit to. The check is a plain recomputation, independent of any stored
//tree.
func VerifyPath(leaf [DigestSize]byte, path []PathStep) (root [DigestSize]byte) {
	cur := leafNode(leaf)
	for _, step := range path {
		if step.Side == Left {
			cur = innerNode(step.Sibling, cur)
		} else {
			cur = innerNode(cur, step.Sibling)
		}
	}

	return cur
}

func leafNode(leaf [DigestSize]byte) (n [DigestSize]byte) {
	copy(n[:], hasher.HashLeaf(leaf[:]))
	return
}

func innerNode(l, r [DigestSize]byte) (n [DigestSize]byte) {
	copy(n[:], hasher.HashChildren(l[:], r[:]))
	return
}
