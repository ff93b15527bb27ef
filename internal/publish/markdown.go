package publish

import (
	"fmt"
	"strings"

	"tasktree/internal/model"
)

type RenderOptions struct {
	// SkipCompleted leaves completed subtrees out of the checklist.
	SkipCompleted bool
}

// RenderTaskMarkdown renders n as a heading followed by a nested GitHub-style
// checklist of its descendants.
func RenderTaskMarkdown(n *model.TaskNode, opt RenderOptions) string {
	var b strings.Builder
	mark := " "
	if n.Completed {
		mark = "x"
	}
	fmt.Fprintf(&b, "# %s\n\n", escapeInline(n.Title))
	fmt.Fprintf(&b, "- ID: `%s`\n", n.ID)
	fmt.Fprintf(&b, "- Status: [%s] %s\n", mark, statusWord(n.Completed))
	if n.TemplateID != nil {
		fmt.Fprintf(&b, "- Template: `%s`\n", *n.TemplateID)
	}
	if len(n.Children) == 0 {
		return b.String()
	}
	done, total := countDone(n)
	fmt.Fprintf(&b, "- Progress: %d/%d\n\n", done, total)

	type frame struct {
		n     *model.TaskNode
		depth int
	}
	var stack []frame
	for i := len(n.Children) - 1; i >= 0; i-- {
		stack = append(stack, frame{n.Children[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if opt.SkipCompleted && f.n.Completed {
			continue
		}
		box := "[ ]"
		if f.n.Completed {
			box = "[x]"
		}
		fmt.Fprintf(&b, "%s- %s %s\n", strings.Repeat("  ", f.depth), box, escapeInline(f.n.Title))
		for i := len(f.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.n.Children[i], f.depth + 1})
		}
	}
	return b.String()
}

// RenderTemplateMarkdown renders an expanded template as a nested list.
func RenderTemplateMarkdown(n *model.TemplateNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", escapeInline(n.Title))
	fmt.Fprintf(&b, "- ID: `%s`\n", n.ID)
	if n.Private {
		b.WriteString("- Private: yes\n")
	}
	if len(n.Children) == 0 {
		return b.String()
	}
	b.WriteString("\n")

	type frame struct {
		n     *model.TemplateNode
		depth int
	}
	var stack []frame
	for i := len(n.Children) - 1; i >= 0; i-- {
		stack = append(stack, frame{n.Children[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fmt.Fprintf(&b, "%s- %s\n", strings.Repeat("  ", f.depth), escapeInline(f.n.Title))
		for i := len(f.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.n.Children[i], f.depth + 1})
		}
	}
	return b.String()
}

func countDone(n *model.TaskNode) (done, total int) {
	for _, c := range n.Children {
		total++
		if c.Completed {
			done++
		}
	}
	return done, total
}

func statusWord(completed bool) string {
	if completed {
		return "done"
	}
	return "open"
}

// escapeInline keeps titles from turning into headings, links or new lines.
func escapeInline(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	r := strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`, "*", `\*`, "_", `\_`, "`", "\\`")
	return r.Replace(strings.TrimSpace(s))
}
