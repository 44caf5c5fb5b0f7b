// Package actionsmap loads the declarative description of every remote
// operation the YunoHost API exposes (categories, actions, arguments and
// their URI templates) and resolves invocations against it.
package actionsmap

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SystemPath is where a locally installed server publishes its actionsmap.
// When it is absent the bundled copy shipped with the binary is used instead.
const SystemPath = "/usr/share/yunohost/actionsmap.yml"

//go:embed actionsmap.yml
var bundled []byte

// Schema is the parsed actionsmap: an ordered tree of categories. It is
// immutable after load.
type Schema struct {
	Categories []*Category
}

// Category groups actions and nested subcategories (nesting depth is
// unbounded).
type Category struct {
	Name          string
	Help          string
	Actions       []*Action
	Subcategories []*Category
}

// Action is one invocable remote operation. API holds the raw, unresolved
// URI template(s) in "METHOD /path/<placeholder>" form; an action carries
// either one template or a get/set pair sharing a path prefix.
type Action struct {
	Name       string
	Help       string
	Hidden     bool
	Deprecated bool
	API        []string
	Arguments  []*Argument
}

// Argument describes one declared argument of an action. Flag is the key as
// written in the actionsmap: a bare name for positionals, "-x" for short
// flags (possibly paired with a Full "--long" form), or "--long" directly.
// A numeric-looking short flag such as "-4" is a literal flag string, never
// a value.
type Argument struct {
	Flag    string
	Full    string
	Action  string // argparse-style: "", store_true, append, count
	Help    string
	Ask     string
	Nargs   string
	Choices []string
	Redact  bool
}

// Name returns the canonical variable name of the argument: the long flag
// when declared, otherwise the short flag, dashes stripped and converted to
// underscores. Placeholders in URI templates refer to this name.
func (a *Argument) Name() string {
	source := a.Full
	if source == "" {
		source = a.Flag
	}
	return strings.ReplaceAll(strings.TrimLeft(source, "-"), "-", "_")
}

// Positional reports whether the argument is supplied by position rather
// than by flag.
func (a *Argument) Positional() bool {
	return !strings.HasPrefix(a.Flag, "-")
}

// LoadError indicates the actionsmap source is missing or malformed. It is
// fatal: no command tree can be built without a schema.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("actionsmap: load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Category returns the named top-level category, or nil.
func (s *Schema) Category(name string) *Category {
	for _, cat := range s.Categories {
		if cat.Name == name {
			return cat
		}
	}
	return nil
}

// Action returns the named action of the category, or nil.
func (c *Category) Action(name string) *Action {
	for _, act := range c.Actions {
		if act.Name == name {
			return act
		}
	}
	return nil
}

// Load reads and parses the actionsmap at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	return Parse(data, path)
}

// LoadDefault loads the system actionsmap when present, falling back to the
// copy bundled with the binary.
func LoadDefault() (*Schema, error) {
	if _, err := os.Stat(SystemPath); err == nil {
		return LoadCached(SystemPath)
	}
	return Parse(bundled, "bundled actionsmap")
}

type cacheEntry struct {
	modTime time.Time
	schema  *Schema
}

var (
	cacheMu sync.Mutex
	cache   = map[string]cacheEntry{}
)

// LoadCached returns the parsed schema for path, re-reading the file only
// when its modification time is newer than the cached copy's.
func LoadCached(path string) (*Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}

	cacheMu.Lock()
	entry, ok := cache[path]
	cacheMu.Unlock()
	if ok && !info.ModTime().After(entry.modTime) {
		return entry.schema, nil
	}

	schema, err := Load(path)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	cache[path] = cacheEntry{modTime: info.ModTime(), schema: schema}
	cacheMu.Unlock()

	return schema, nil
}

// Parse decodes actionsmap YAML. The yaml.Node API is used directly so that
// category, action and argument order is preserved and so that flag keys
// like "-4" stay strings.
func Parse(data []byte, source string) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	if len(doc.Content) == 0 {
		return nil, &LoadError{Source: source, Err: fmt.Errorf("empty document")}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &LoadError{Source: source, Err: fmt.Errorf("top level must be a mapping")}
	}

	schema := &Schema{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		if strings.HasPrefix(name, "_") {
			// Reserved sections (e.g. _global) carry parser-wide
			// defaults, not categories.
			continue
		}
		cat, err := parseCategory(name, root.Content[i+1])
		if err != nil {
			return nil, &LoadError{Source: source, Err: err}
		}
		schema.Categories = append(schema.Categories, cat)
	}

	return schema, nil
}

func parseCategory(name string, node *yaml.Node) (*Category, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("category %s: expected a mapping", name)
	}

	cat := &Category{Name: name}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "category_help", "subcategory_help":
			cat.Help = value.Value
		case "actions":
			if value.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("category %s: actions must be a mapping", name)
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				action, err := parseAction(value.Content[j].Value, value.Content[j+1])
				if err != nil {
					return nil, fmt.Errorf("category %s: %w", name, err)
				}
				cat.Actions = append(cat.Actions, action)
			}
		case "subcategories":
			if value.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("category %s: subcategories must be a mapping", name)
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				sub, err := parseCategory(value.Content[j].Value, value.Content[j+1])
				if err != nil {
					return nil, err
				}
				cat.Subcategories = append(cat.Subcategories, sub)
			}
		}
	}

	return cat, nil
}

func parseAction(name string, node *yaml.Node) (*Action, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("action %s: expected a mapping", name)
	}

	action := &Action{Name: name}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "action_help":
			action.Help = value.Value
		case "hidden":
			if err := value.Decode(&action.Hidden); err != nil {
				return nil, fmt.Errorf("action %s: hidden: %w", name, err)
			}
		case "deprecated":
			if err := value.Decode(&action.Deprecated); err != nil {
				return nil, fmt.Errorf("action %s: deprecated: %w", name, err)
			}
		case "api":
			templates, err := parseTemplates(value)
			if err != nil {
				return nil, fmt.Errorf("action %s: %w", name, err)
			}
			action.API = templates
		case "arguments":
			if value.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("action %s: arguments must be a mapping", name)
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				arg, err := parseArgument(value.Content[j].Value, value.Content[j+1])
				if err != nil {
					return nil, fmt.Errorf("action %s: %w", name, err)
				}
				action.Arguments = append(action.Arguments, arg)
			}
		}
	}

	return action, nil
}

func parseTemplates(node *yaml.Node) ([]string, error) {
	var raw []string
	switch node.Kind {
	case yaml.ScalarNode:
		raw = []string{node.Value}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			raw = append(raw, item.Value)
		}
	default:
		return nil, fmt.Errorf("api must be a string or a list of strings")
	}

	if len(raw) > 2 {
		return nil, fmt.Errorf("api declares %d templates, at most 2 are supported", len(raw))
	}
	for _, tpl := range raw {
		method, uri, ok := strings.Cut(tpl, " ")
		if !ok || method == "" || !strings.HasPrefix(uri, "/") {
			return nil, fmt.Errorf("malformed URI template %q (want \"METHOD /path\")", tpl)
		}
	}
	return raw, nil
}

func parseArgument(flag string, node *yaml.Node) (*Argument, error) {
	arg := &Argument{Flag: flag}
	if node.Kind == 0 || node.Tag == "!!null" {
		return arg, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("argument %s: expected a mapping", flag)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "help":
			arg.Help = value.Value
		case "full":
			arg.Full = value.Value
		case "action":
			arg.Action = value.Value
		case "ask":
			arg.Ask = value.Value
		case "nargs":
			arg.Nargs = value.Value
		case "redact":
			if err := value.Decode(&arg.Redact); err != nil {
				return nil, fmt.Errorf("argument %s: redact: %w", flag, err)
			}
		case "choices":
			if err := value.Decode(&arg.Choices); err != nil {
				return nil, fmt.Errorf("argument %s: choices: %w", flag, err)
			}
		}
	}

	return arg, nil
}
