package tracker

import (
	"fmt"
	"strings"
)

// Element is the subset of a DOM element the tracker looks at.
type Element struct {
	TagName    string
	ID         string
	Classes    []string
	Attributes map[string]string
	Text       string
}

func (e Element) tag() string {
	return strings.ToLower(e.TagName)
}

func (e Element) hasClass(name string) bool {
	for _, c := range e.Classes {
		if c == name {
			return true
		}
	}
	return false
}

// selectorFor builds the CSS selector reported for a clicked element:
// "#id" when the element has one, otherwise "tag.class1.class2".
func selectorFor(e Element) string {
	if e.ID != "" {
		return "#" + e.ID
	}
	var b strings.Builder
	b.WriteString(e.tag())
	for _, c := range e.Classes {
		if c == "" {
			continue
		}
		b.WriteByte('.')
		b.WriteString(c)
	}
	return b.String()
}

type attrMatch struct {
	name     string
	value    string
	hasValue bool
}

// selector is a compound simple selector such as `a.nav[data-x=1]`.
// Combinators are not supported.
type selector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

func (s selector) matches(e Element) bool {
	if s.tag != "" && s.tag != "*" && s.tag != e.tag() {
		return false
	}
	if s.id != "" && s.id != e.ID {
		return false
	}
	for _, c := range s.classes {
		if !e.hasClass(c) {
			return false
		}
	}
	for _, a := range s.attrs {
		v, ok := e.Attributes[a.name]
		if !ok {
			return false
		}
		if a.hasValue && v != a.value {
			return false
		}
	}
	return true
}

// parseSelectorList parses a comma separated selector group.
func parseSelectorList(s string) ([]selector, error) {
	var out []selector
	for _, part := range strings.Split(s, ",") {
		sel, err := parseSelector(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

func parseSelector(s string) (selector, error) {
	var sel selector
	if s == "" {
		return sel, fmt.Errorf("empty selector")
	}
	if strings.ContainsAny(s, " >+~:") {
		return sel, fmt.Errorf("combinators and pseudo-classes are not supported")
	}

	i := 0
	readName := func() string {
		start := i
		for i < len(s) && !strings.ContainsRune("#.[", rune(s[i])) {
			i++
		}
		return s[start:i]
	}

	sel.tag = strings.ToLower(readName())
	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			sel.id = readName()
			if sel.id == "" {
				return sel, fmt.Errorf("empty id in %q", s)
			}
		case '.':
			i++
			class := readName()
			if class == "" {
				return sel, fmt.Errorf("empty class in %q", s)
			}
			sel.classes = append(sel.classes, class)
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return sel, fmt.Errorf("unterminated attribute in %q", s)
			}
			body := s[i+1 : i+end]
			i += end + 1
			name, value, hasValue := strings.Cut(body, "=")
			name = strings.TrimSpace(name)
			if name == "" {
				return sel, fmt.Errorf("empty attribute name in %q", s)
			}
			sel.attrs = append(sel.attrs, attrMatch{
				name:     name,
				value:    strings.Trim(strings.TrimSpace(value), `"'`),
				hasValue: hasValue,
			})
		default:
			return sel, fmt.Errorf("unexpected %q in %q", s[i], s)
		}
	}
	return sel, nil
}

// ignoreList matches an element or any of its ancestors against the
// configured selectors.
type ignoreList []selector

func newIgnoreList(selectors []string) ignoreList {
	var list ignoreList
	for _, s := range selectors {
		parsed, err := parseSelectorList(s)
		if err != nil {
			continue
		}
		list = append(list, parsed...)
	}
	return list
}

func (l ignoreList) ignored(target Element, ancestors []Element) bool {
	for _, sel := range l {
		if sel.matches(target) {
			return true
		}
		for _, a := range ancestors {
			if sel.matches(a) {
				return true
			}
		}
	}
	return false
}
