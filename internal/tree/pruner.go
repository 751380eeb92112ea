package tree

// Prune removes folders with no file descendant, recursively. Files pass
// through unchanged; a folder whose pruned children are empty is dropped
// from its parent's list entirely. Pure function: the input forest is not
// modified, returned folder nodes are fresh copies.
//
// Prune is idempotent, and every folder in its output has at least one
// file somewhere beneath it.
func Prune(nodes []*Node) []*Node {
	pruned := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.IsFolder {
			pruned = append(pruned, n)
			continue
		}
		children := Prune(n.Children)
		if len(children) == 0 {
			continue
		}
		folder := *n
		folder.Children = children
		pruned = append(pruned, &folder)
	}
	return pruned
}
