// Package publish writes task subtrees and templates as Markdown files.
package publish

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"tasktree/internal/model"
)

type WriteOptions struct {
	SkipCompleted bool
	Overwrite     bool
}

type WriteResult struct {
	Written []string `json:"written"`
}

// WriteTask writes <toDir>/tasks/<id>.md for the subtree rooted at n.
func WriteTask(n *model.TaskNode, toDir string, opt WriteOptions) (WriteResult, error) {
	if n == nil {
		return WriteResult{}, errors.New("missing task")
	}
	return write(filepath.Join("tasks", n.ID+".md"), RenderTaskMarkdown(n, RenderOptions{SkipCompleted: opt.SkipCompleted}), toDir, opt)
}

// WriteTemplate writes <toDir>/templates/<id>.md.
func WriteTemplate(n *model.TemplateNode, toDir string, opt WriteOptions) (WriteResult, error) {
	if n == nil {
		return WriteResult{}, errors.New("missing template")
	}
	return write(filepath.Join("templates", n.ID+".md"), RenderTemplateMarkdown(n), toDir, opt)
}

func write(rel, md, toDir string, opt WriteOptions) (WriteResult, error) {
	toDir = strings.TrimSpace(toDir)
	if toDir == "" {
		return WriteResult{}, errors.New("missing --to")
	}
	outPath := filepath.Join(filepath.Clean(toDir), rel)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return WriteResult{}, err
	}
	if err := writeFile(outPath, []byte(md), opt.Overwrite); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Written: []string{outPath}}, nil
}

func writeFile(path string, b []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.New("file exists (use --overwrite): " + path)
		}
	}
	return os.WriteFile(path, b, 0o644)
}
