package trace

import "sort"

// TreeNode is a Node with its children attached, for rendering the
// recursion tree.
type TreeNode struct {
	Node
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree assembles the flat node list into a tree rooted at the node
// with no parent. Siblings are ordered by sequence number. Returns nil when
// the list is empty or has no root.
func BuildTree(nodes []*Node) *TreeNode {
	byID := make(map[string]*TreeNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &TreeNode{Node: *n}
	}

	var root *TreeNode
	for _, n := range nodes {
		tn := byID[n.ID]
		if n.ParentNodeID == "" {
			root = tn
			continue
		}
		parent, ok := byID[n.ParentNodeID]
		if !ok {
			// Orphaned node, drop it rather than invent a root.
			continue
		}
		parent.Children = append(parent.Children, tn)
	}
	if root == nil {
		return nil
	}

	for _, tn := range byID {
		sort.Slice(tn.Children, func(i, j int) bool {
			return tn.Children[i].SequenceNumber < tn.Children[j].SequenceNumber
		})
	}
	return root
}
