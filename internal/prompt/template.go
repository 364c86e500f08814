// Package prompt builds the text sent to the generation models.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrMissingSlot = errors.New("prompt slot not bound")
	ErrUnknownSlot = errors.New("prompt slot not declared")
)

var slotPattern = regexp.MustCompile(`\{([a-z][a-z_]*)\}`)

// Template is prompt text with named {slot} placeholders. Every declared slot
// must be bound exactly once when rendering.
type Template struct {
	name  string
	text  string
	slots map[string]struct{}
}

func NewTemplate(name, text string) (*Template, error) {
	slots := map[string]struct{}{}
	for _, match := range slotPattern.FindAllStringSubmatch(text, -1) {
		slots[match[1]] = struct{}{}
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("template %q declares no slots", name)
	}
	return &Template{name: name, text: text, slots: slots}, nil
}

func MustTemplate(name, text string) *Template {
	tmpl, err := NewTemplate(name, text)
	if err != nil {
		panic(err)
	}
	return tmpl
}

func (t *Template) Name() string {
	return t.name
}

func (t *Template) Slots() []string {
	names := make([]string, 0, len(t.slots))
	for name := range t.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render substitutes values in a single pass, so placeholders inside bound
// values are left untouched.
func (t *Template) Render(values map[string]string) (string, error) {
	for _, name := range t.Slots() {
		if _, ok := values[name]; !ok {
			return "", fmt.Errorf("%w: %s.%s", ErrMissingSlot, t.name, name)
		}
	}
	for name := range values {
		if _, ok := t.slots[name]; !ok {
			return "", fmt.Errorf("%w: %s.%s", ErrUnknownSlot, t.name, name)
		}
	}
	return slotPattern.ReplaceAllStringFunc(t.text, func(match string) string {
		return values[strings.Trim(match, "{}")]
	}), nil
}

// MustRender panics on a slot mismatch. Slots are fixed at compile time, so a
// mismatch is a programming error.
func (t *Template) MustRender(values map[string]string) string {
	rendered, err := t.Render(values)
	if err != nil {
		panic(err)
	}
	return rendered
}
