package arcstamp_test

import (
	"fmt"
	"testing"

	"github.com/advanderveer/go-test"
	"github.com/arcstamp/arcstamp"
)

func testLeaves(n int) (leaves [][arcstamp.DigestSize]byte) {
	leaves = make([][arcstamp.DigestSize]byte, n)
	for i := range leaves {
		leaves[i][0] = byte(i + 1)
	}

	return
}

func TestTreeErrors(t *testing.T) {
	_, err := arcstamp.NewTree()
	test.Equals(t, arcstamp.ErrEmptyBatch, err)

	t1, err := arcstamp.NewTree(testLeaves(3)...)
	test.Ok(t, err)

	_, err = t1.Prove(-1)
	test.Equals(t, arcstamp.ErrLeafOutOfRange, err)
	_, err = t1.Prove(3)
	test.Equals(t, arcstamp.ErrLeafOutOfRange, err)
}

func TestSingleLeafBatch(t *testing.T) {
	leaves := testLeaves(1)
	t1, err := arcstamp.NewTree(leaves...)
	test.Ok(t, err)
	test.Equals(t, 1, t1.Len())

	path, err := t1.Prove(0)
	test.Ok(t, err)
	test.Equals(t, 0, len(path))
	test.Equals(t, t1.Root(), arcstamp.VerifyPath(leaves[0], path))
}

func TestProveAndVerifyAllSizes(t *testing.T) {
	for n := 1; n <= 9; n++ {
		t.Run(fmt.Sprintf("%d leaves", n), func(t *testing.T) {
			leaves := testLeaves(n)
			t1, err := arcstamp.NewTree(leaves...)
			test.Ok(t, err)
			test.Equals(t, n, t1.Len())

			for i := 0; i < n; i++ {
				path, err := t1.Prove(i)
				test.Ok(t, err)
				test.Equals(t, t1.Root(), arcstamp.VerifyPath(leaves[i], path))
			}
		})
	}
}

func TestTreeShapeIsDeterministic(t *testing.T) {
	t1, err := arcstamp.NewTree(testLeaves(5)...)
	test.Ok(t, err)
	t2, err := arcstamp.NewTree(testLeaves(5)...)
	test.Ok(t, err)
	test.Equals(t, t1.Root(), t2.Root())

	//leaf order is part of the commitment
	leaves := testLeaves(5)
	leaves[0], leaves[1] = leaves[1], leaves[0]
	t3, err := arcstamp.NewTree(leaves...)
	test.Ok(t, err)
	test.Assert(t, t1.Root() != t3.Root(), "swapped leaves should change the root")
}

func TestUnpairedNodePromotion(t *testing.T) {
	//with 3 leaves the last leaf is unpaired at level 0, so its path holds a
	//single step while the paired leaves hold two
	leaves := testLeaves(3)
	t1, err := arcstamp.NewTree(leaves...)
	test.Ok(t, err)

	p0, err := t1.Prove(0)
	test.Ok(t, err)
	test.Equals(t, 2, len(p0))

	p1, err := t1.Prove(1)
	test.Ok(t, err)
	test.Equals(t, 2, len(p1))

	p2, err := t1.Prove(2)
	test.Ok(t, err)
	test.Equals(t, 1, len(p2))
	test.Equals(t, arcstamp.Left, p2[0].Side)
}

func TestTamperedPath(t *testing.T) {
	leaves := testLeaves(4)
	t1, err := arcstamp.NewTree(leaves...)
	test.Ok(t, err)

	path, err := t1.Prove(2)
	test.Ok(t, err)

	t.Run("swapped sibling digest", func(t *testing.T) {
		bad := append([]arcstamp.PathStep(nil), path...)
		bad[0].Sibling[4] ^= 0x01
		test.Assert(t, t1.Root() != arcstamp.VerifyPath(leaves[2], bad), "tampered sibling should break the path")
	})

	t.Run("swapped side flag", func(t *testing.T) {
		bad := append([]arcstamp.PathStep(nil), path...)
		if bad[0].Side == arcstamp.Left {
			bad[0].Side = arcstamp.Right
		} else {
			bad[0].Side = arcstamp.Left
		}

		test.Assert(t, t1.Root() != arcstamp.VerifyPath(leaves[2], bad), "flipped side should break the path")
	})
}
