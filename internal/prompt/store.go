// Package prompt loads and renders the three LLM prompt templates: the
// system prompt, the one-shot plan-generation prompt and the per-step
// interactive prompt. Templates use a minimal mustache-like syntax:
//
//	{{var}}                         value substitution
//	{{object.field}}                dotted lookup
//	{{#if x}}...{{else}}...{{/if}}  truthiness branch, one nesting level
//
// When no template directory is configured (the common worker deployment)
// built-in defaults are used.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pagewatch/internal/logging"
)

// Template names.
const (
	TemplateSystem          = "system"
	TemplateUserPlan        = "user-plan"
	TemplateInteractiveStep = "interactive-step"
)

// maxDOMChars bounds the DOM variable in the interactive-step template.
const maxDOMChars = 4000

var templateFiles = map[string]string{
	TemplateSystem:          "system.tmpl",
	TemplateUserPlan:        "user_plan.tmpl",
	TemplateInteractiveStep: "interactive_step.tmpl",
}

// Store holds the loaded templates and optionally watches the template
// directory for changes.
type Store struct {
	dir       string
	mu        sync.RWMutex
	templates map[string]string
	watcher   *fsnotify.Watcher
}

// NewStore loads templates from dir, falling back to the built-in defaults
// for any template file that is missing or unreadable. Empty dir means
// defaults only.
func NewStore(dir string) *Store {
	s := &Store{dir: dir, templates: make(map[string]string, len(templateFiles))}
	s.loadAll()
	return s
}

func (s *Store) loadAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, file := range templateFiles {
		s.templates[name] = defaultTemplates[name]
		if s.dir == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, file))
		if err != nil {
			if !os.IsNotExist(err) {
				logging.Get(logging.CategoryPrompt).Warn("template %s unreadable, using default: %v", file, err)
			}
			continue
		}
		s.templates[name] = string(data)
		logging.PromptDebug("loaded template %s from %s", name, s.dir)
	}
}

// Watch begins hot-reloading templates when files in the directory change.
// No-op when the store uses defaults only. Call Close to stop.
func (s *Store) Watch() error {
	if s.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					logging.Prompt("template change detected: %s", ev.Name)
					s.loadAll()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryPrompt).Warn("watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the template watcher if one is running.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Render renders the named template with vars. The interactive-step
// template's dom variable is truncated to 4000 characters before
// substitution.
func (s *Store) Render(name string, vars map[string]interface{}) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}

	if name == TemplateInteractiveStep {
		if dom, ok := vars["dom"].(string); ok && len(dom) > maxDOMChars {
			clone := make(map[string]interface{}, len(vars))
			for k, v := range vars {
				clone[k] = v
			}
			clone["dom"] = dom[:maxDOMChars]
			vars = clone
		}
	}
	return render(tmpl, vars), nil
}

// render applies conditionals first, then variable substitution.
func render(tmpl string, vars map[string]interface{}) string {
	out := renderConditionals(tmpl, vars)
	return substitute(out, vars)
}

// renderConditionals resolves {{#if x}}...{{else}}...{{/if}} blocks,
// tracking depth so one level of nesting works.
func renderConditionals(tmpl string, vars map[string]interface{}) string {
	var out strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{#if ")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		condEnd := strings.Index(rest[start:], "}}")
		if condEnd < 0 {
			out.WriteString(rest[start:])
			break
		}
		condEnd += start
		condVar := strings.TrimSpace(rest[start+len("{{#if ") : condEnd])
		body := rest[condEnd+2:]

		closeIdx, elseIdx := findBlockEnds(body)
		if closeIdx < 0 {
			out.WriteString(rest[start:])
			break
		}

		thenPart := body[:closeIdx]
		elsePart := ""
		if elseIdx >= 0 && elseIdx < closeIdx {
			thenPart = body[:elseIdx]
			elsePart = body[elseIdx+len("{{else}}") : closeIdx]
		}

		if truthy(lookup(vars, condVar)) {
			out.WriteString(renderConditionals(thenPart, vars))
		} else {
			out.WriteString(renderConditionals(elsePart, vars))
		}
		rest = body[closeIdx+len("{{/if}}"):]
	}
	return out.String()
}

// findBlockEnds locates the matching {{/if}} and the top-level {{else}} for
// the block starting at the beginning of body. Returns -1 when missing.
func findBlockEnds(body string) (closeIdx, elseIdx int) {
	depth := 0
	elseIdx = -1
	for i := 0; i < len(body); {
		switch {
		case strings.HasPrefix(body[i:], "{{#if "):
			depth++
			i += len("{{#if ")
		case strings.HasPrefix(body[i:], "{{/if}}"):
			if depth == 0 {
				return i, elseIdx
			}
			depth--
			i += len("{{/if}}")
		case strings.HasPrefix(body[i:], "{{else}}"):
			if depth == 0 && elseIdx < 0 {
				elseIdx = i
			}
			i += len("{{else}}")
		default:
			i++
		}
	}
	return -1, elseIdx
}

// substitute replaces {{var}} and {{object.field}} occurrences.
func substitute(tmpl string, vars map[string]interface{}) string {
	var out strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start
		key := strings.TrimSpace(rest[start+2 : end])
		out.WriteString(rest[:start])
		if v := lookup(vars, key); v != nil {
			out.WriteString(fmt.Sprintf("%v", v))
		}
		rest = rest[end+2:]
	}
	return out.String()
}

// lookup resolves a possibly dotted key against the vars map. Nested maps
// and one level of struct-free traversal are supported.
func lookup(vars map[string]interface{}, key string) interface{} {
	parts := strings.Split(key, ".")
	var cur interface{} = vars
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}
