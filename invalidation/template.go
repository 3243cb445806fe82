package invalidation

import (
	"fmt"
	"strings"
)

// wholeRegion is the key template that names every key of a region.
const wholeRegion = "*"

type segment struct {
	text  string
	param bool
}

// KeyTemplate is a cache key with {param} placeholders, e.g. "from-{actor}".
// A placeholder bound to several values expands to one key per value; with
// several list-valued placeholders the keys are their cartesian product.
type KeyTemplate struct {
	raw      string
	segments []segment
	whole    bool
}

// ParseKey parses a key template. "*" stands for the whole region.
func ParseKey(s string) (KeyTemplate, error) {
	if s == "" {
		return KeyTemplate{}, fmt.Errorf("invalidation: empty key template")
	}
	if s == wholeRegion {
		return KeyTemplate{raw: s, whole: true}, nil
	}

	t := KeyTemplate{raw: s}
	rest := s
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return KeyTemplate{}, fmt.Errorf("invalidation: unbalanced '}' in %q", s)
			}
			t.segments = append(t.segments, segment{text: rest})
			break
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return KeyTemplate{}, fmt.Errorf("invalidation: unbalanced '}' in %q", s)
		}
		if open > 0 {
			t.segments = append(t.segments, segment{text: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return KeyTemplate{}, fmt.Errorf("invalidation: unterminated placeholder in %q", s)
		}
		name := rest[open+1 : open+end]
		if name == "" || strings.ContainsAny(name, "{") {
			return KeyTemplate{}, fmt.Errorf("invalidation: bad placeholder in %q", s)
		}
		t.segments = append(t.segments, segment{text: name, param: true})
		rest = rest[open+end+1:]
	}
	return t, nil
}

// MustKey is like ParseKey but panics on error.
func MustKey(s string) KeyTemplate {
	t, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template as written.
func (t KeyTemplate) String() string { return t.raw }

// Whole reports whether the template names the whole region.
func (t KeyTemplate) Whole() bool { return t.whole }

// Params returns the placeholder names in order of appearance.
func (t KeyTemplate) Params() []string {
	var names []string
	for _, s := range t.segments {
		if s.param {
			names = append(names, s.text)
		}
	}
	return names
}

// Expand evaluates the template against params. A placeholder with no entry
// in params is an ErrMissingParam; one bound to an empty list yields no keys.
// Empty values are skipped.
func (t KeyTemplate) Expand(params map[string][]string) ([]string, error) {
	if t.whole {
		return []string{wholeRegion}, nil
	}

	keys := []string{""}
	for _, s := range t.segments {
		if !s.param {
			for i := range keys {
				keys[i] += s.text
			}
			continue
		}
		values, ok := params[s.text]
		if !ok {
			return nil, fmt.Errorf("%w: %q in key %q", ErrMissingParam, s.text, t.raw)
		}
		next := make([]string, 0, len(keys)*len(values))
		for _, k := range keys {
			for _, v := range values {
				if v == "" {
					continue
				}
				next = append(next, k+v)
			}
		}
		keys = next
	}
	return keys, nil
}
