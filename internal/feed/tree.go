package feed

import (
	"slices"
)

// BuildCommentTree assembles a flat, enriched comment set into a two-level
// tree. Top-level comments keep their input order and each one's replies are
// sorted oldest first. A reply whose parent is missing from the set, or whose
// parent is itself a reply, is dropped. The input is not modified.
func BuildCommentTree(flat []Comment) []Comment {
	roots := make([]Comment, 0, len(flat))
	index := make(map[int64]int, len(flat))
	for _, c := range flat {
		if c.ParentID != nil {
			continue
		}
		if _, dup := index[c.ID]; dup {
			continue
		}
		c.Replies = nil
		index[c.ID] = len(roots)
		roots = append(roots, c)
	}

	children := make(map[int64][]Comment, len(roots))
	for _, c := range flat {
		if c.ParentID == nil {
			continue
		}
		if _, ok := index[*c.ParentID]; !ok {
			continue
		}
		c.Replies = nil
		children[*c.ParentID] = append(children[*c.ParentID], c)
	}

	for i := range roots {
		replies := children[roots[i].ID]
		if replies == nil {
			replies = []Comment{}
		}
		slices.SortStableFunc(replies, func(x, y Comment) int {
			return x.CreatedAt.Compare(y.CreatedAt)
		})
		roots[i].Replies = replies
	}
	return roots
}

// findComment returns the address of the comment with id inside tree, replies included
func findComment(tree []Comment, id int64) *Comment {
	for i := range tree {
		if tree[i].ID == id {
			return &tree[i]
		}
		for j := range tree[i].Replies {
			if tree[i].Replies[j].ID == id {
				return &tree[i].Replies[j]
			}
		}
	}
	return nil
}
