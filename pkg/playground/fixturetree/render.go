package fixturetree

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tsarna/playground/pkg/playground"
)

// RenderOptions control Render. The zero value renders a tree with only
// the root expanded and nothing selected.
type RenderOptions struct {
	Expansion TreeExpansion
	Selected  *playground.FixtureID
	// ShowURLs appends each fixture's playground link.
	ShowURLs bool
	// Renderer decides the color profile; defaults to one detected from w.
	Renderer *lipgloss.Renderer
}

type styles struct {
	dir      lipgloss.Style
	item     lipgloss.Style
	selected lipgloss.Style
	url      lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		dir:      r.NewStyle().Foreground(lipgloss.Color("245")),
		item:     r.NewStyle().Foreground(lipgloss.Color("250")),
		selected: r.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("236")),
		url:      r.NewStyle().Faint(true),
	}
}

// Render writes the expanded part of the tree to w, one line per directory
// or fixture. Directories come before fixtures at each level, in
// SortedDirNames order. The selected fixture is marked with ">".
func Render(w io.Writer, root *Node, opts RenderOptions) error {
	renderer := opts.Renderer
	if renderer == nil {
		renderer = lipgloss.NewRenderer(w)
	}

	var sb strings.Builder
	renderNode(&sb, root, nil, opts, newStyles(renderer))

	_, err := io.WriteString(w, sb.String())
	return err
}

func renderNode(sb *strings.Builder, node *Node, parents []string, opts RenderOptions, st styles) {
	depth := len(parents)

	if depth > 0 {
		chevron := "▸"
		if opts.Expansion.IsExpanded(NodePath(parents)) {
			chevron = "▾"
		}
		fmt.Fprintf(sb, "  %s%s %s\n", indent(depth-1), chevron, st.dir.Render(parents[depth-1]+"/"))
	}

	if !opts.Expansion.IsExpanded(NodePath(parents)) {
		return
	}

	for _, dirName := range SortedDirNames(node) {
		next := append(append([]string(nil), parents...), dirName)
		renderNode(sb, node.Dirs[dirName], next, opts, st)
	}

	for _, name := range SortedItemNames(node) {
		id := node.Items[name]

		marker, label := " ", st.item.Render(name)
		if opts.Selected != nil && opts.Selected.Equal(id) {
			marker, label = ">", st.selected.Render(name)
		}

		line := fmt.Sprintf("%s %s  %s", marker, indent(depth), label)
		if opts.ShowURLs {
			line += "  " + st.url.Render(playground.FixtureURL(id))
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
}

func indent(level int) string {
	return strings.Repeat("  ", level)
}
