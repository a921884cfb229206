// Package fixturetree turns the fixture list reported by renderers into a
// navigable directory tree and keeps the navigation state (selected fixture,
// expanded directories) the playground shows to the user.
package fixturetree

import (
	"path"
	"sort"
	"strings"

	"github.com/tsarna/playground/pkg/playground"
)

// Node is one directory of the fixture tree. Items maps display names to
// fixtures; Dirs maps directory names to subtrees.
type Node struct {
	Items map[string]playground.FixtureID
	Dirs  map[string]*Node
}

func newNode() *Node {
	return &Node{
		Items: make(map[string]playground.FixtureID),
		Dirs:  make(map[string]*Node),
	}
}

// TreeExpansion records which directories are expanded, keyed by NodePath.
// The root is always expanded and never needs an entry.
type TreeExpansion map[string]bool

// IsExpanded reports whether the node at nodePath is expanded.
func (e TreeExpansion) IsExpanded(nodePath string) bool {
	return nodePath == "" || e[nodePath]
}

// NodePath identifies a directory by its parents, e.g. "components/forms".
// The root has the empty path.
func NodePath(parents []string) string {
	return strings.Join(parents, "/")
}

// Build arranges fixtures into a tree that mirrors their file paths.
//
// Path segments equal to fixturesDir are hidden, and file names lose their
// extension and fixtureFileSuffix, so "src/__fixtures__/Button.fixture.js"
// becomes the item "Button" under "src". A file exporting several named
// fixtures becomes a directory holding one item per name.
func Build(fixtures playground.FixtureNamesByPath, fixturesDir, fixtureFileSuffix string) *Node {
	root := newNode()

	paths := make([]string, 0, len(fixtures))
	for fixturePath := range fixtures {
		paths = append(paths, fixturePath)
	}
	sort.Strings(paths)

	for _, fixturePath := range paths {
		dirs, fileName := parseFixturePath(fixturePath, fixturesDir, fixtureFileSuffix)

		names := fixtures[fixturePath]
		if names == nil {
			nodeAt(root, dirs).Items[fileName] = playground.DefaultFixtureID(fixturePath)
			continue
		}

		node := nodeAt(root, append(dirs, fileName))
		for _, name := range names {
			node.Items[name] = playground.NewFixtureID(fixturePath, name)
		}
	}

	return root
}

func parseFixturePath(fixturePath, fixturesDir, fixtureFileSuffix string) ([]string, string) {
	segments := strings.Split(strings.Trim(fixturePath, "/"), "/")

	var dirs []string
	for _, segment := range segments[:len(segments)-1] {
		if segment == "" || segment == "." || (fixturesDir != "" && segment == fixturesDir) {
			continue
		}
		dirs = append(dirs, segment)
	}

	fileName := segments[len(segments)-1]
	fileName = strings.TrimSuffix(fileName, path.Ext(fileName))
	if fixtureFileSuffix != "" && fileName != fixtureFileSuffix {
		fileName = strings.TrimSuffix(fileName, "."+fixtureFileSuffix)
	}

	return dirs, fileName
}

func nodeAt(root *Node, dirs []string) *Node {
	node := root
	for _, dir := range dirs {
		child, ok := node.Dirs[dir]
		if !ok {
			child = newNode()
			node.Dirs[dir] = child
		}
		node = child
	}
	return node
}

// SortedDirNames returns the names of node's subdirectories: those that
// contain directories of their own first, each group sorted by name.
func SortedDirNames(node *Node) []string {
	names := make([]string, 0, len(node.Dirs))
	for name := range node.Dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	sort.SliceStable(names, func(i, j int) bool {
		return hasDirs(node.Dirs[names[i]]) && !hasDirs(node.Dirs[names[j]])
	})
	return names
}

func hasDirs(node *Node) bool {
	return len(node.Dirs) > 0
}

// SortedItemNames returns the names of node's fixtures in name order.
func SortedItemNames(node *Node) []string {
	names := make([]string, 0, len(node.Items))
	for name := range node.Items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find returns the display location of id: the parents of the node that
// holds it, and its item name.
func Find(root *Node, id playground.FixtureID) ([]string, string, bool) {
	return find(root, nil, id)
}

func find(node *Node, parents []string, id playground.FixtureID) ([]string, string, bool) {
	for name, item := range node.Items {
		if item.Equal(id) {
			return parents, name, true
		}
	}
	for _, dirName := range SortedDirNames(node) {
		next := append(append([]string(nil), parents...), dirName)
		if found, name, ok := find(node.Dirs[dirName], next, id); ok {
			return found, name, true
		}
	}
	return nil, "", false
}

// Count returns the number of fixtures in the tree.
func Count(node *Node) int {
	n := len(node.Items)
	for _, dir := range node.Dirs {
		n += Count(dir)
	}
	return n
}
