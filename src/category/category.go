// Package category holds the site's category hierarchy: a tree of
// code -> {name, subcategories} loaded from a static file.
package category

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/andrewyi/newsrelay/src/enum"
)

const (
	nameKey          = "name"
	subcategoriesKey = "subcategories"
	pathSeparator    = " > "
)

var ErrMalformed = errors.New("malformed category document")

// Category is one node of the hierarchy. Children keep document order.
type Category struct {
	Code     string
	Name     string
	Children []*Category
}

func (c *Category) child(code string) *Category {
	for _, ch := range c.Children {
		if ch.Code == code {
			return ch
		}
	}
	return nil
}

func (c *Category) IsLeaf() bool {
	return len(c.Children) == 0
}

func (c *Category) clone() *Category {
	out := &Category{Code: c.Code, Name: c.Name}
	for _, ch := range c.Children {
		out.Children = append(out.Children, ch.clone())
	}
	return out
}

// Tree is the in-memory category hierarchy. Reads may run concurrently;
// Add and the load functions take the write lock.
type Tree struct {
	mu    sync.RWMutex
	roots []*Category
}

func NewTree() *Tree {
	return &Tree{}
}

// Load reads the category file at path. A missing or malformed file yields an
// empty tree and a warning, never an error.
func Load(path string, logger *log.Logger) *Tree {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("fail to read categories, using an empty tree")
		return NewTree()
	}
	t, err := Parse(data)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("fail to parse categories, using an empty tree")
		return NewTree()
	}
	return t
}

// Parse decodes a JSON (or YAML) category document, keeping key order.
func Parse(data []byte) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t := NewTree()
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return t, nil // empty document
	}
	roots, err := decodeLevel(doc.Content[0])
	if err != nil {
		return nil, err
	}
	t.roots = roots
	return t, nil
}

func decodeLevel(node *yaml.Node) ([]*Category, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: expected a mapping of categories", ErrMalformed, node.Line)
	}
	var out []*Category
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: line %d: category %q is not a mapping", ErrMalformed, value.Line, key.Value)
		}
		c := &Category{Code: key.Value}
		for j := 0; j+1 < len(value.Content); j += 2 {
			field, fieldValue := value.Content[j], value.Content[j+1]
			switch field.Value {
			case nameKey:
				c.Name = fieldValue.Value
			case subcategoriesKey:
				children, err := decodeLevel(fieldValue)
				if err != nil {
					return nil, err
				}
				c.Children = children
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Save writes the tree to path with 4-space indentation, as YAML when the
// extension is .yaml/.yml and as JSON otherwise.
func (t *Tree) Save(path string) error {
	t.mu.RLock()
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = t.marshalYAML()
	default:
		data, err = t.MarshalJSON()
	}
	t.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MarshalJSON encodes the tree in document order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var compact bytes.Buffer
	if err := writeJSONLevel(&compact, t.roots); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func writeJSONLevel(buf *bytes.Buffer, level []*Category) error {
	buf.WriteByte('{')
	for i, c := range level {
		if i > 0 {
			buf.WriteByte(',')
		}
		code, err := json.Marshal(c.Code)
		if err != nil {
			return err
		}
		name, err := json.Marshal(c.Name)
		if err != nil {
			return err
		}
		buf.Write(code)
		buf.WriteString(`:{"` + nameKey + `":`)
		buf.Write(name)
		buf.WriteString(`,"` + subcategoriesKey + `":`)
		if err := writeJSONLevel(buf, c.Children); err != nil {
			return err
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return nil
}

func (t *Tree) marshalYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(encodeLevel(t.roots)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeLevel(level []*Category) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, c := range level {
		value := &yaml.Node{Kind: yaml.MappingNode}
		value.Content = append(value.Content,
			scalar(nameKey), scalar(c.Name),
			scalar(subcategoriesKey), encodeLevel(c.Children),
		)
		node.Content = append(node.Content, scalar(c.Code), value)
	}
	return node
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// TopLevel returns the first-level codes in document order.
func (t *Tree) TopLevel() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	codes := make([]string, 0, len(t.roots))
	for _, c := range t.roots {
		codes = append(codes, c.Code)
	}
	return codes
}

func (t *Tree) IsValidTopLevel(code string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root(code) != nil
}

func (t *Tree) root(code string) *Category {
	for _, c := range t.roots {
		if c.Code == code {
			return c
		}
	}
	return nil
}

// lookup walks path from the top level; callers hold the lock.
func (t *Tree) lookup(path []string) *Category {
	if len(path) == 0 {
		return nil
	}
	node := t.root(path[0])
	for _, code := range path[1:] {
		if node == nil {
			return nil
		}
		node = node.child(code)
	}
	return node
}

// Name resolves the display name of the category at path.
func (t *Tree) Name(path ...string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node := t.lookup(path)
	if node == nil {
		return "", false
	}
	return node.Name, true
}

// Subtree returns a copy of the category at path.
func (t *Tree) Subtree(path ...string) (*Category, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node := t.lookup(path)
	if node == nil {
		return nil, false
	}
	return node.clone(), true
}

// DisplayName joins the names of every level of path, falling back to the
// raw code for levels that cannot be resolved.
func (t *Tree) DisplayName(path []string) string {
	parts := make([]string, 0, len(path))
	for i, code := range path {
		name, ok := t.Name(path[:i+1]...)
		if !ok || name == "" {
			name = code
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, pathSeparator)
}

type frame struct {
	node *Category
	path []string
}

func childPath(path []string, code string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, code)
}

// walk visits the subtree under start in pre-order, children in document
// order, stopping early when visit returns false. Callers hold the lock.
func walk(start *Category, visit func(node *Category, path []string) bool) {
	stack := []frame{{node: start, path: []string{start.Code}}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(f.node, f.path) {
			return
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			ch := f.node.Children[i]
			stack = append(stack, frame{node: ch, path: childPath(f.path, ch.Code)})
		}
	}
}

// AllLeafPaths lists, in pre-order, the path of every node under the given
// top-level category: nodes with children as well as leaves, so a crawl can
// run at every granularity. Unknown codes yield nil.
func (t *Tree) AllLeafPaths(topCode string) [][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	top := t.root(topCode)
	if top == nil {
		return nil
	}
	var paths [][]string
	walk(top, func(_ *Category, path []string) bool {
		paths = append(paths, path)
		return true
	})
	return paths
}

// LeafPaths lists every path that is exactly depth levels long, across all
// top-level categories in document order.
func (t *Tree) LeafPaths(depth int) [][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var paths [][]string
	for _, top := range t.roots {
		walk(top, func(_ *Category, path []string) bool {
			if len(path) == depth {
				paths = append(paths, path)
			}
			return true
		})
	}
	return paths
}

// FindPathToCode searches each top-level category in document order,
// depth-first and at most maxDepth levels deep, and returns the first path
// ending at code. maxDepth <= 0 means the conventional three levels.
func (t *Tree) FindPathToCode(code string, maxDepth int) ([]string, bool) {
	if maxDepth <= 0 {
		maxDepth = enum.MaxCategoryDepth
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.findPath(code, maxDepth)
}

func (t *Tree) findPath(code string, maxDepth int) ([]string, bool) {
	var found []string
	for _, top := range t.roots {
		walk(top, func(node *Category, path []string) bool {
			if len(path) > maxDepth {
				return true
			}
			if node.Code == code {
				found = path
				return false
			}
			return true
		})
		if found != nil {
			return found, true
		}
	}
	return nil, false
}

// Add inserts a new category under parentPath, or at the top level when
// parentPath is empty. It fails when code or name is empty, when parentPath
// cannot be resolved, or when a sibling already uses code. An existing
// category is never overwritten: its name and children stay as they are.
func (t *Tree) Add(parentPath []string, code, name string) bool {
	if code == "" || name == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	node := &Category{Code: code, Name: name}
	if len(parentPath) == 0 {
		if t.root(code) != nil {
			return false
		}
		t.roots = append(t.roots, node)
		return true
	}

	parent := t.lookup(parentPath)
	if parent == nil || parent.child(code) != nil {
		return false
	}
	parent.Children = append(parent.Children, node)
	return true
}

// AddUnder inserts a new category below the first category whose code is
// parentCode. Each level is checked for parentCode before descending into
// its children, in document order. An empty parentCode adds at the top level.
// Like Add, it refuses a code already used under that parent.
func (t *Tree) AddUnder(parentCode, code, name string) bool {
	if parentCode == "" {
		return t.Add(nil, code, name)
	}
	if code == "" || name == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := [][]*Category{t.roots}
	for len(levels) > 0 {
		level := levels[len(levels)-1]
		levels = levels[:len(levels)-1]
		for _, c := range level {
			if c.Code != parentCode {
				continue
			}
			if c.child(code) != nil {
				return false
			}
			c.Children = append(c.Children, &Category{Code: code, Name: name})
			return true
		}
		for i := len(level) - 1; i >= 0; i-- {
			if !level[i].IsLeaf() {
				levels = append(levels, level[i].Children)
			}
		}
	}
	return false
}
