// Package flags turns semantic build options into ordered command-line flags.
//
// Templates use a single "%s" placeholder. A template without a placeholder
// is either a switch (for boolean values) or a literal prefix token that is
// emitted as-is. The empty template emits the value verbatim.
package flags

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder is substituted with the option value inside a template.
const Placeholder = "%s"

// DuplicateFlagError is returned by AppendFlags when NoDuplicates is set and
// the list already carries a flag matching the template.
type DuplicateFlagError struct {
	Template string
	Existing string
}

func (e *DuplicateFlagError) Error() string {
	return fmt.Sprintf("flag %q already present (template %q)", e.Existing, e.Template)
}

// CreateFlag expands template with value.
//
//   - nil, "" and empty slices produce no flags
//   - bool produces [template] when true and nothing when false
//   - slices and arrays of any element type recurse per element and
//     concatenate
//   - an empty template returns the value verbatim
//   - a template with a placeholder returns the substituted template
func CreateFlag(template string, value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		if v && template != "" {
			return []string{template}
		}
		return nil
	case []string:
		var out []string
		for _, x := range v {
			out = append(out, CreateFlag(template, x)...)
		}
		return out
	}
	// any other slice or array, e.g. []int or []int64 decoded from TOML
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var out []string
		for i := 0; i < rv.Len(); i++ {
			out = append(out, CreateFlag(template, rv.Index(i).Interface())...)
		}
		return out
	}
	s := scalar(value)
	if s == "" {
		return nil
	}
	if template == "" {
		return []string{s}
	}
	if strings.Contains(template, Placeholder) {
		return []string{strings.ReplaceAll(template, Placeholder, s)}
	}
	// literal prefix token followed by the value, e.g. "-o" "out"
	return []string{template, s}
}

func scalar(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

type appendOptions struct {
	position     int
	positioned   bool
	noDuplicates bool
}

// Option tunes AppendFlags.
type Option func(*appendOptions)

// At splices new flags at pos: 0 prepends, negative N inserts at len+N+1
// (so -1 appends). Positions beyond the list are clamped.
func At(pos int) Option {
	return func(o *appendOptions) {
		o.position = pos
		o.positioned = true
	}
}

// NoDuplicates rejects the append when a flag matching the template exists.
func NoDuplicates() Option {
	return func(o *appendOptions) { o.noDuplicates = true }
}

// AppendFlags creates flags via CreateFlag and splices them into list.
// The input slice is not modified.
func AppendFlags(list []string, template string, value any, opts ...Option) ([]string, error) {
	var o appendOptions
	for _, fn := range opts {
		fn(&o)
	}
	created := CreateFlag(template, value)
	if o.noDuplicates {
		if existing, ok := findMatch(list, template, created); ok {
			return nil, &DuplicateFlagError{Template: template, Existing: existing}
		}
	}
	out := make([]string, 0, len(list)+len(created))
	if !o.positioned {
		out = append(out, list...)
		return append(out, created...), nil
	}
	pos := o.position
	if pos < 0 {
		pos = len(list) + pos + 1
	}
	if pos < 0 {
		pos = 0
	}
	if pos > len(list) {
		pos = len(list)
	}
	out = append(out, list[:pos]...)
	out = append(out, created...)
	return append(out, list[pos:]...), nil
}

// findMatch reports the first entry of list matching template. Templates
// without a placeholder match their literal tokens; the empty template
// matches any of the newly created values.
func findMatch(list []string, template string, created []string) (string, bool) {
	if template == "" {
		for _, f := range list {
			for _, c := range created {
				if f == c {
					return f, true
				}
			}
		}
		return "", false
	}
	re := Pattern(template)
	for _, f := range list {
		if re.MatchString(f) {
			return f, true
		}
	}
	return "", false
}

// Pattern compiles a template into an anchored regexp where the placeholder
// matches any non-empty value.
func Pattern(template string) *regexp.Regexp {
	parts := strings.Split(template, Placeholder)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, "(.+)") + "$")
}

// Has reports whether list contains a flag matching template.
func Has(list []string, template string) bool {
	re := Pattern(template)
	for _, f := range list {
		if re.MatchString(f) {
			return true
		}
	}
	return false
}
