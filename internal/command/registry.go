package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registration-time errors. A malformed command tree is a programming error,
// so callers treat these as fatal during startup.
var (
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrUnknownParent    = errors.New("unknown parent command")
)

// Registry is the command tree. It is built once during startup registration
// and read-only afterwards; lookups take the read lock only to tolerate late
// registration during the startup phase itself.
//
// Nodes live in an arena addressed by stable index, each holding a non-owning
// parent index. This keeps ownership strictly downward while still allowing
// upward traversal for fully-qualified names in help text.
type Registry struct {
	mu    sync.RWMutex
	nodes []treeNode
}

type treeNode struct {
	cmd      Command
	parent   int // index into nodes; -1 for the synthetic root
	children []int
}

func NewRegistry() *Registry {
	return &Registry{
		// nodes[0] is the synthetic root; its children are the root commands.
		nodes: []treeNode{{parent: -1}},
	}
}

// SplitPath splits a parent path into segments. Dotted, slash-delimited and
// space-delimited forms are accepted ("mod.warn", "mod/warn", "mod warn").
func SplitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '.' || r == '/' || r == ' '
	})
}

// Register inserts cmd under the parent identified by path (empty path means
// the root). It fails with ErrUnknownParent when an intermediate segment does
// not resolve, and with ErrDuplicateCommand when a sibling already owns the
// name or one of the aliases.
func (r *Registry) Register(path string, cmd Command) error {
	name := strings.TrimSpace(cmd.Name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("invalid command name %q", cmd.Name)
	}
	cmd.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	parent := 0
	for _, seg := range SplitPath(path) {
		next, ok := r.childLocked(parent, seg)
		if !ok {
			return fmt.Errorf("%w: %q in path %q", ErrUnknownParent, seg, path)
		}
		parent = next
	}

	labels := append([]string{cmd.Name}, cmd.Aliases...)
	for _, label := range labels {
		if _, ok := r.childLocked(parent, label); ok {
			return fmt.Errorf("%w: %q under %q", ErrDuplicateCommand, label, r.pathLocked(parent))
		}
	}
	// Aliases of a single command must not collide with each other either.
	for i, a := range labels {
		for _, b := range labels[i+1:] {
			if strings.EqualFold(a, b) {
				return fmt.Errorf("%w: alias %q repeats", ErrDuplicateCommand, b)
			}
		}
	}

	r.nodes = append(r.nodes, treeNode{cmd: cmd, parent: parent})
	idx := len(r.nodes) - 1
	r.nodes[parent].children = append(r.nodes[parent].children, idx)
	return nil
}

// Lookup walks the tree greedily from the root: at each step, if the next
// token case-insensitively matches a child's name or alias, it descends and
// consumes the token; otherwise it stops. It returns the deepest node reached
// plus the remaining tokens verbatim, or ok=false when the first token does
// not match any root command.
func (r *Registry) Lookup(tokens []string) (node *Node, residual []string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur := 0
	for len(tokens) > 0 {
		next, found := r.childLocked(cur, tokens[0])
		if !found {
			break
		}
		cur = next
		tokens = tokens[1:]
	}
	if cur == 0 {
		return nil, tokens, false
	}
	return &Node{r: r, idx: cur}, tokens, true
}

// Roots returns the root commands in registration order.
func (r *Registry) Roots() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wrapLocked(r.nodes[0].children)
}

// Find resolves an exact path of names/aliases, or nil.
func (r *Registry) Find(path []string) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur := 0
	for _, seg := range path {
		next, ok := r.childLocked(cur, seg)
		if !ok {
			return nil
		}
		cur = next
	}
	if cur == 0 {
		return nil
	}
	return &Node{r: r, idx: cur}
}

func (r *Registry) childLocked(parent int, label string) (int, bool) {
	for _, ci := range r.nodes[parent].children {
		c := &r.nodes[ci].cmd
		if strings.EqualFold(c.Name, label) {
			return ci, true
		}
		for _, a := range c.Aliases {
			if strings.EqualFold(a, label) {
				return ci, true
			}
		}
	}
	return 0, false
}

func (r *Registry) pathLocked(idx int) string {
	if idx == 0 {
		return "(root)"
	}
	var parts []string
	for idx > 0 {
		parts = append(parts, r.nodes[idx].cmd.Name)
		idx = r.nodes[idx].parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " ")
}

func (r *Registry) wrapLocked(idxs []int) []*Node {
	out := make([]*Node, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, &Node{r: r, idx: i})
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].Name() < out[b].Name()
	})
	return out
}

// Node is a read-only view of one command tree entry.
type Node struct {
	r   *Registry
	idx int
}

func (n *Node) Command() *Command {
	n.r.mu.RLock()
	defer n.r.mu.RUnlock()
	return &n.r.nodes[n.idx].cmd
}

func (n *Node) Name() string        { return n.Command().Name }
func (n *Node) Description() string { return n.Command().Description }
func (n *Node) Usage() string       { return n.Command().Usage }

// Runnable reports whether the node has an executor (false for containers).
func (n *Node) Runnable() bool { return n.Command().Handle != nil }

// Path returns the fully-qualified, space-separated path from the root.
func (n *Node) Path() string {
	n.r.mu.RLock()
	defer n.r.mu.RUnlock()
	return n.r.pathLocked(n.idx)
}

// Children returns the node's subcommands sorted by name.
func (n *Node) Children() []*Node {
	n.r.mu.RLock()
	defer n.r.mu.RUnlock()
	return n.r.wrapLocked(n.r.nodes[n.idx].children)
}
