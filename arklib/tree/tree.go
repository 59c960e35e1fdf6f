package tree

import (
	"errors"
	"fmt"
)

// Node embeds one transaction of a batch tree along with its position metadata.
type Node struct {
	Txid       string
	Tx         string
	ParentTxid string
	Leaf       bool
}

var (
	ErrParentNotFound = errors.New("parent not found")
	ErrLeafNotFound   = errors.New("leaf not found in tx tree")
)

// TxTree is a matrix of Node, the first level contains only the root.
type TxTree [][]Node

// Validate checks that every node's txid matches its transaction and that
// every non-root node has a parent in the tree.
func (t TxTree) Validate(getTxid func(tx string) string) error {
	for _, level := range t[1:] {
		for _, node := range level {
			if txid := getTxid(node.Tx); txid != node.Txid {
				return fmt.Errorf("node claims txid %s, computed %s", node.Txid, txid)
			}

			if _, err := node.findParent(t); err != nil {
				return fmt.Errorf("node %s has no parent: %s", node.Txid, err)
			}
		}
	}

	return nil
}

// Root returns the single node of the first level.
func (t TxTree) Root() (Node, error) {
	if len(t) <= 0 || len(t[0]) <= 0 {
		return Node{}, errors.New("empty tx tree")
	}

	return t[0][0], nil
}

// Leaves returns all nodes flagged as leaves, plus the whole last level.
func (t TxTree) Leaves() []Node {
	leaves := t[len(t)-1]
	for _, level := range t[:len(t)-1] {
		for _, node := range level {
			if node.Leaf {
				leaves = append(leaves, node)
			}
		}
	}

	return leaves
}

// Children returns all the nodes that have the given node as parent.
func (t TxTree) Children(nodeTxid string) []Node {
	var children []Node
	for _, level := range t {
		for _, node := range level {
			if node.ParentTxid == nodeTxid {
				children = append(children, node)
			}
		}
	}

	return children
}

// NumberOfNodes returns the total number of transactions in the tree.
func (t TxTree) NumberOfNodes() int {
	var count int
	for _, level := range t {
		count += len(level)
	}
	return count
}

// Branch returns the path from the root to the given leaf, in tree order.
func (t TxTree) Branch(leafTxid string) ([]Node, error) {
	branch := make([]Node, 0)

	found := false
	for _, leaf := range t.Leaves() {
		if leaf.Txid == leafTxid {
			found = true
			branch = append(branch, leaf)
			break
		}
	}
	if !found {
		return nil, ErrLeafNotFound
	}

	rootTxid := t[0][0].Txid

	for branch[0].Txid != rootTxid {
		parent, err := branch[0].findParent(t)
		if err != nil {
			return nil, err
		}
		branch = append([]Node{parent}, branch...)
	}

	return branch, nil
}

func (n Node) findParent(t TxTree) (Node, error) {
	for _, level := range t {
		for _, node := range level {
			if node.Txid == n.ParentTxid {
				return node, nil
			}
		}
	}
	return Node{}, ErrParentNotFound
}
