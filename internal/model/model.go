package model

import "time"

type Task struct {
	ID         string  `json:"id"`
	TemplateID *string `json:"templateId,omitempty"`
	ParentID   *string `json:"parentId,omitempty"`

	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	SortOrder int    `json:"sortOrder"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskNode is a task plus its ordered children, as produced by the tree builder.
type TaskNode struct {
	Task
	Children []*TaskNode `json:"children"`
}

type Template struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Private bool   `json:"private"`

	// RootLevel keeps a template listed at the top level even when it has
	// no incoming relations.
	RootLevel bool `json:"rootLevel"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TemplateRelation is a positioned parent->child edge in the template graph.
// The same ChildID may appear under many parents.
type TemplateRelation struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	ChildID  string `json:"childId"`
	Position int    `json:"position"`
	Expanded bool   `json:"expanded"`
}

// TemplateNode is one path of an expanded template graph.
type TemplateNode struct {
	Template
	// RelationID and Position describe the edge from the parent node; empty for the root.
	RelationID string          `json:"relationId,omitempty"`
	Position   int             `json:"position"`
	Children   []*TemplateNode `json:"children"`
}

type Event struct {
	ID       string    `json:"id"`
	TS       time.Time `json:"ts"`
	Type     string    `json:"type"`
	EntityID string    `json:"entityId"`
	Payload  any       `json:"payload"`
}

// StrPtr returns a pointer to a copy of s.
func StrPtr(s string) *string { return &s }

// ParentKey returns the parent id or "" for roots.
func (t Task) ParentKey() string {
	if t.ParentID == nil {
		return ""
	}
	return *t.ParentID
}
