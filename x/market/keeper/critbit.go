package keeper

import (
	"math/bits"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// CritBitMaxDepth bounds the bit position a critical bit can take.
const CritBitMaxDepth = 64

// critBitEmpty is the sentinel "no node" index.
const critBitEmpty = 0xFFFFFFFF

// critBitNode is one node of the tree: a leaf maps a price to a queue
// index; an internal node records the bit position its two children
// diverge on.
type critBitNode struct {
	key          uint64
	payloadIndex uint32
	parent       uint32
	left         uint32
	right        uint32
	criticalBit  uint8
	isLeaf       bool
}

// CritBitTree is a bump-allocated critical-bit tree keyed by price,
// mapping each distinct price to a slab queue index.
//
// Insert routes new leaves strictly by get_bit(key, criticalBit) at every
// internal node: bit 1 always goes right. That invariant makes Min/Max an
// O(log n) descent instead of a scan of every leaf.
type CritBitTree struct {
	root     uint32
	leafCnt  uint32
	nextFree uint32
	freeList []uint32
	nodes    []critBitNode
	capacity int
}

// NewCritBitTree allocates a tree with a fixed node capacity. A CritBit
// tree with n leaves needs at most 2n-1 nodes, so capacity is usually
// 2*maxPriceLevels.
func NewCritBitTree(capacity int) *CritBitTree {
	return &CritBitTree{
		root:     critBitEmpty,
		nodes:    make([]critBitNode, 0, capacity),
		capacity: capacity,
	}
}

func criticalBit(a, b uint64) uint8 {
	xor := a ^ b
	if xor == 0 {
		return 64
	}
	return uint8(63 - bits.LeadingZeros64(xor))
}

func getBit(key uint64, bitPos uint8) bool {
	if bitPos >= 64 {
		return false
	}
	return (key>>bitPos)&1 == 1
}

// alloc returns a free node slot, preferring the free-list before bumping
// nextFree.
func (t *CritBitTree) alloc() (uint32, error) {
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		return idx, nil
	}
	if int(t.nextFree) >= t.capacity {
		return 0, types.ErrBookFull
	}
	idx := t.nextFree
	t.nextFree++
	t.nodes = append(t.nodes, critBitNode{})
	return idx, nil
}

func (t *CritBitTree) release(idx uint32) {
	t.nodes[idx] = critBitNode{}
	t.freeList = append(t.freeList, idx)
}

// Len returns the number of distinct keys (price levels) held.
func (t *CritBitTree) Len() int {
	return int(t.leafCnt)
}

// Insert maps key to payload, overwriting the payload if key already
// exists.
//
// This is the standard two-pass crit-bit insert. A single descent only
// finds the existing leaf nearest to key; splicing the new internal
// node in at that leaf's position is wrong
// whenever key's own critical bit belongs further up the tree, and breaks
// the routing invariant extreme() depends on. The first pass finds that
// nearest leaf and the new critical bit; the second pass re-descends from
// the root to find where a node testing that bit actually belongs, since
// critical bits strictly decrease root-to-leaf.
func (t *CritBitTree) Insert(key uint64, payload uint32) error {
	if t.root == critBitEmpty {
		idx, err := t.alloc()
		if err != nil {
			return err
		}
		t.nodes[idx] = critBitNode{key: key, payloadIndex: payload, parent: critBitEmpty, left: critBitEmpty, right: critBitEmpty, isLeaf: true}
		t.root = idx
		t.leafCnt = 1
		return nil
	}

	current := t.root
	for !t.nodes[current].isLeaf {
		node := t.nodes[current]
		if getBit(key, node.criticalBit) {
			current = node.right
		} else {
			current = node.left
		}
	}
	if t.nodes[current].key == key {
		t.nodes[current].payloadIndex = payload
		return nil
	}
	newCritBit := criticalBit(key, t.nodes[current].key)

	parentIdx := uint32(critBitEmpty)
	current = t.root
	wentRight := false
	for !t.nodes[current].isLeaf && t.nodes[current].criticalBit > newCritBit {
		node := t.nodes[current]
		parentIdx = current
		if getBit(key, node.criticalBit) {
			wentRight = true
			current = node.right
		} else {
			wentRight = false
			current = node.left
		}
	}

	innerIdx, err := t.alloc()
	if err != nil {
		return err
	}
	leafIdx, err := t.alloc()
	if err != nil {
		t.release(innerIdx)
		return err
	}
	t.nodes[leafIdx] = critBitNode{key: key, payloadIndex: payload, parent: innerIdx, left: critBitEmpty, right: critBitEmpty, isLeaf: true}

	newLeafRight := getBit(key, newCritBit)
	inner := critBitNode{criticalBit: newCritBit, isLeaf: false, parent: parentIdx}
	if newLeafRight {
		inner.left = current
		inner.right = leafIdx
	} else {
		inner.left = leafIdx
		inner.right = current
	}
	t.nodes[innerIdx] = inner
	t.nodes[current].parent = innerIdx

	if parentIdx == critBitEmpty {
		t.root = innerIdx
	} else if wentRight {
		t.nodes[parentIdx].right = innerIdx
	} else {
		t.nodes[parentIdx].left = innerIdx
	}

	t.leafCnt++
	return nil
}

// Remove deletes key from the tree, returning its payload.
func (t *CritBitTree) Remove(key uint64) (uint32, error) {
	if t.root == critBitEmpty {
		return 0, types.ErrNotFound
	}

	current := t.root
	for {
		node := t.nodes[current]
		if node.isLeaf {
			if node.key != key {
				return 0, types.ErrNotFound
			}
			payload := node.payloadIndex

			if node.parent == critBitEmpty {
				t.root = critBitEmpty
				t.leafCnt = 0
				t.release(current)
				return payload, nil
			}

			parentIdx := node.parent
			parent := t.nodes[parentIdx]
			var siblingIdx uint32
			if parent.left == current {
				siblingIdx = parent.right
			} else {
				siblingIdx = parent.left
			}

			if parent.parent == critBitEmpty {
				t.root = siblingIdx
				t.nodes[siblingIdx].parent = critBitEmpty
			} else {
				grandparentIdx := parent.parent
				if t.nodes[grandparentIdx].left == parentIdx {
					t.nodes[grandparentIdx].left = siblingIdx
				} else {
					t.nodes[grandparentIdx].right = siblingIdx
				}
				t.nodes[siblingIdx].parent = grandparentIdx
			}

			t.release(current)
			t.release(parentIdx)
			t.leafCnt--
			return payload, nil
		}

		if getBit(key, node.criticalBit) {
			current = node.right
		} else {
			current = node.left
		}
	}
}

// Find returns the payload mapped to key, if present.
func (t *CritBitTree) Find(key uint64) (uint32, bool) {
	if t.root == critBitEmpty {
		return 0, false
	}
	current := t.root
	for {
		node := t.nodes[current]
		if node.isLeaf {
			if node.key == key {
				return node.payloadIndex, true
			}
			return 0, false
		}
		if getBit(key, node.criticalBit) {
			current = node.right
		} else {
			current = node.left
		}
	}
}

// clone returns a deep copy of the tree for dry-run matching.
func (t *CritBitTree) clone() *CritBitTree {
	nodes := make([]critBitNode, len(t.nodes))
	copy(nodes, t.nodes)
	freeList := make([]uint32, len(t.freeList))
	copy(freeList, t.freeList)
	return &CritBitTree{
		root:     t.root,
		leafCnt:  t.leafCnt,
		nextFree: t.nextFree,
		freeList: freeList,
		nodes:    nodes,
		capacity: t.capacity,
	}
}

// Min returns the smallest key and its payload (best ask).
func (t *CritBitTree) Min() (uint64, uint32, bool) {
	return t.extreme(false)
}

// Max returns the largest key and its payload (best bid).
func (t *CritBitTree) Max() (uint64, uint32, bool) {
	return t.extreme(true)
}

// extreme descends always-right (max) or always-left (min) from the
// root. This relies on the insert routing invariant (bit 1 -> right) and
// runs in O(log n).
func (t *CritBitTree) extreme(max bool) (uint64, uint32, bool) {
	if t.root == critBitEmpty {
		return 0, 0, false
	}
	current := t.root
	for {
		node := t.nodes[current]
		if node.isLeaf {
			return node.key, node.payloadIndex, true
		}
		if max {
			current = node.right
		} else {
			current = node.left
		}
	}
}
