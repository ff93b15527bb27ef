package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"tasktree/internal/model"
)

type TreeOptions struct {
	// Color enables ANSI styling; NO_COLOR in the environment still wins.
	Color bool
	// Width truncates each line when > 0.
	Width int
	// ShowIDs appends record ids.
	ShowIDs bool
}

type treeStyles struct {
	done    lipgloss.Style
	open    lipgloss.Style
	muted   lipgloss.Style
	private lipgloss.Style
}

func newStyles(w io.Writer, opts TreeOptions) treeStyles {
	r := lipgloss.NewRenderer(w)
	if !opts.Color || termenv.EnvNoColor() {
		r.SetColorProfile(termenv.Ascii)
	}
	return treeStyles{
		done:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"}),
		open:    r.NewStyle().Bold(true),
		muted:   r.NewStyle().Faint(true),
		private: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"}),
	}
}

// CanTree reports whether WriteTree accepts v.
func CanTree(v any) bool {
	switch v.(type) {
	case []*model.TaskNode, *model.TaskNode, *model.TemplateNode, []model.Template:
		return true
	}
	return false
}

// WriteTree renders a task forest, a single task subtree or a template tree
// as indented text.
func WriteTree(w io.Writer, v any, opts TreeOptions) error {
	st := newStyles(w, opts)
	var lines []string
	switch x := v.(type) {
	case []*model.TaskNode:
		for i, n := range x {
			lines = taskLines(lines, st, opts, n, "", i == len(x)-1, true)
		}
	case *model.TaskNode:
		if x != nil {
			lines = taskLines(lines, st, opts, x, "", true, true)
		}
	case *model.TemplateNode:
		if x != nil {
			lines = templateLines(lines, st, opts, x, "", true, true)
		}
	case []model.Template:
		for _, t := range x {
			lines = append(lines, templateLabel(st, opts, t))
		}
	default:
		return fmt.Errorf("tree format not supported for %T", v)
	}
	for _, l := range lines {
		if opts.Width > 0 && xansi.StringWidth(l) > opts.Width {
			l = xansi.Truncate(l, opts.Width, "…")
		}
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func branch(prefix string, last, top bool) (lead, childPrefix string) {
	if top {
		return "", ""
	}
	if last {
		return prefix + "└─ ", prefix + "   "
	}
	return prefix + "├─ ", prefix + "│  "
}

// taskLines walks with an explicit stack so very deep trees do not recurse.
func taskLines(lines []string, st treeStyles, opts TreeOptions, root *model.TaskNode, prefix string, last, top bool) []string {
	type frame struct {
		n      *model.TaskNode
		prefix string
		last   bool
		top    bool
	}
	stack := []frame{{root, prefix, last, top}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		lead, childPrefix := branch(f.prefix, f.last, f.top)
		lines = append(lines, st.muted.Render(lead)+taskLabel(st, opts, f.n))
		for i := len(f.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.n.Children[i], childPrefix, i == len(f.n.Children)-1, false})
		}
	}
	return lines
}

func taskLabel(st treeStyles, opts TreeOptions, n *model.TaskNode) string {
	var b strings.Builder
	if n.Completed {
		b.WriteString(st.done.Render("[x] " + n.Title))
	} else {
		b.WriteString(st.open.Render("[ ] " + n.Title))
	}
	if len(n.Children) > 0 {
		done := 0
		for _, c := range n.Children {
			if c.Completed {
				done++
			}
		}
		b.WriteString(st.muted.Render(fmt.Sprintf(" [%d/%d]", done, len(n.Children))))
	}
	if opts.ShowIDs {
		b.WriteString(st.muted.Render("  " + n.ID))
	}
	return b.String()
}

func templateLines(lines []string, st treeStyles, opts TreeOptions, root *model.TemplateNode, prefix string, last, top bool) []string {
	type frame struct {
		n      *model.TemplateNode
		prefix string
		last   bool
		top    bool
	}
	stack := []frame{{root, prefix, last, top}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		lead, childPrefix := branch(f.prefix, f.last, f.top)
		lines = append(lines, st.muted.Render(lead)+templateLabel(st, opts, f.n.Template))
		for i := len(f.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.n.Children[i], childPrefix, i == len(f.n.Children)-1, false})
		}
	}
	return lines
}

func templateLabel(st treeStyles, opts TreeOptions, t model.Template) string {
	out := st.open.Render(t.Title)
	if t.Private {
		out += st.private.Render(" (private)")
	}
	if opts.ShowIDs {
		out += st.muted.Render("  " + t.ID)
	}
	return out
}
