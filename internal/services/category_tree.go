package services

import (
	"catalog-override-service/internal/models"
)

type treeNode struct {
	id       int64
	parent   int // index into nodes, -1 for top level
	name     string
	isRoot   bool
	removed  bool
	children []int
}

// CategoryTree is an arena-backed view of the taxonomy, including unsaved temp nodes
type CategoryTree struct {
	nodes []treeNode
	index map[int64]int
}

// NewCategoryTree builds a tree from persisted categories. Parents may appear in any order.
func NewCategoryTree(categories []models.Category) *CategoryTree {
	t := &CategoryTree{index: make(map[int64]int, len(categories))}
	for _, c := range categories {
		t.index[c.ID] = len(t.nodes)
		t.nodes = append(t.nodes, treeNode{id: c.ID, parent: -1, name: c.Name, isRoot: c.IsRoot})
	}
	for _, c := range categories {
		if c.ParentID == nil {
			continue
		}
		if p, ok := t.index[*c.ParentID]; ok {
			i := t.index[c.ID]
			t.nodes[i].parent = p
			t.nodes[p].children = append(t.nodes[p].children, i)
		}
	}
	return t
}

// Add inserts a node under parentID (nil for top level)
func (t *CategoryTree) Add(id int64, parentID *int64, name string) {
	if _, exists := t.index[id]; exists {
		return
	}
	i := len(t.nodes)
	node := treeNode{id: id, parent: -1, name: name}
	if parentID != nil {
		if p, ok := t.index[*parentID]; ok {
			node.parent = p
			t.nodes[p].children = append(t.nodes[p].children, i)
		}
	}
	t.nodes = append(t.nodes, node)
	t.index[id] = i
}

// Contains reports whether id is a live node
func (t *CategoryTree) Contains(id int64) bool {
	_, ok := t.index[id]
	return ok
}

// IsRoot reports whether id is a structural root category
func (t *CategoryTree) IsRoot(id int64) bool {
	i, ok := t.index[id]
	return ok && t.nodes[i].isRoot
}

// Descendants returns every live descendant of id in depth-first order
func (t *CategoryTree) Descendants(id int64) []int64 {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	var out []int64
	stack := append([]int(nil), t.nodes[i].children...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.nodes[n].removed {
			continue
		}
		out = append(out, t.nodes[n].id)
		stack = append(stack, t.nodes[n].children...)
	}
	return out
}

// Ancestors returns the parent chain of id, nearest first
func (t *CategoryTree) Ancestors(id int64) []int64 {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	var out []int64
	for p := t.nodes[i].parent; p >= 0; p = t.nodes[p].parent {
		out = append(out, t.nodes[p].id)
	}
	return out
}

// Depth returns the number of ancestors of id
func (t *CategoryTree) Depth(id int64) int {
	return len(t.Ancestors(id))
}

// Parent returns the parent id of id
func (t *CategoryTree) Parent(id int64) (int64, bool) {
	i, ok := t.index[id]
	if !ok || t.nodes[i].parent < 0 {
		return 0, false
	}
	return t.nodes[t.nodes[i].parent].id, true
}

// Remove drops id and its subtree from the live view
func (t *CategoryTree) Remove(id int64) {
	i, ok := t.index[id]
	if !ok {
		return
	}
	for _, d := range t.Descendants(id) {
		t.nodes[t.index[d]].removed = true
		delete(t.index, d)
	}
	t.nodes[i].removed = true
	delete(t.index, id)
}

// ReplaceID renames a node, used when a temp id receives its real id
func (t *CategoryTree) ReplaceID(old, replacement int64) {
	i, ok := t.index[old]
	if !ok {
		return
	}
	delete(t.index, old)
	t.nodes[i].id = replacement
	t.index[replacement] = i
}

// Categories returns the live nodes as category records
func (t *CategoryTree) Categories() []models.Category {
	out := make([]models.Category, 0, len(t.index))
	for _, n := range t.nodes {
		if n.removed {
			continue
		}
		c := models.Category{ID: n.id, Name: n.name, IsRoot: n.isRoot}
		if n.parent >= 0 {
			pid := t.nodes[n.parent].id
			c.ParentID = &pid
		}
		out = append(out, c)
	}
	return out
}
