package actionsmap

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Request is a fully resolved invocation: every placeholder in URI has been
// substituted, and arguments that found no placeholder ride along as query
// parameters.
type Request struct {
	Method string
	URI    string
	Params url.Values
}

// Supplied is one argument value as provided on the command line. Flag is
// the flag (or positional name) as typed; Values holds the stringified
// value(s), more than one for append-style flags and multi-value
// positionals.
type Supplied struct {
	Flag   string
	Values []string
}

// DuplicateArgumentError indicates that two distinct flags bound the same
// canonical argument name in a single invocation (e.g. -p and --password).
type DuplicateArgumentError struct {
	Name  string
	Flags []string
}

func (e *DuplicateArgumentError) Error() string {
	return fmt.Sprintf("argument %q supplied more than once (via %s)",
		e.Name, strings.Join(e.Flags, " and "))
}

// AmbiguousTemplateError indicates that after substitution no single URI
// template of the action could be chosen: none resolved completely, or more
// than one did. Resolution never silently picks a template.
type AmbiguousTemplateError struct {
	Action string
	Reason string
}

func (e *AmbiguousTemplateError) Error() string {
	return fmt.Sprintf("cannot resolve an endpoint for action %s: %s", e.Action, e.Reason)
}

var placeholderRe = regexp.MustCompile(`<[^<>/]+>`)

type candidate struct {
	method    string
	path      string
	discarded bool
}

// Resolve substitutes the supplied argument values into the action's URI
// template(s) and returns the concrete request to issue.
//
// Each supplied argument is matched by its canonical name against the
// <name> placeholders of the still-active templates. A value whose
// placeholder appears in exactly one of two templates selects that template
// and discards the other; a value appearing in every active template is
// substituted into all of them; a value appearing in none becomes a query
// parameter. Sequence values are joined with "%20" before substitution, and
// literal spaces inside a substituted value are encoded the same way.
func Resolve(action *Action, supplied []Supplied) (Request, error) {
	if len(action.API) == 0 {
		return Request{}, &AmbiguousTemplateError{
			Action: action.Name,
			Reason: "action has no API endpoint",
		}
	}

	candidates := make([]*candidate, 0, len(action.API))
	for _, tpl := range action.API {
		method, path, _ := strings.Cut(tpl, " ")
		candidates = append(candidates, &candidate{method: method, path: path})
	}

	params := url.Values{}
	seen := map[string]string{} // canonical name -> flag that bound it

	for _, sup := range supplied {
		if len(sup.Values) == 0 {
			continue
		}
		arg := action.argumentForFlag(sup.Flag)
		if arg == nil {
			return Request{}, fmt.Errorf("unknown argument %q for action %s", sup.Flag, action.Name)
		}
		name := arg.Name()
		if prev, dup := seen[name]; dup {
			return Request{}, &DuplicateArgumentError{Name: name, Flags: []string{prev, sup.Flag}}
		}
		seen[name] = sup.Flag

		placeholder := "<" + name + ">"
		var matches []*candidate
		active := 0
		for _, cand := range candidates {
			if cand.discarded {
				continue
			}
			active++
			if strings.Contains(cand.path, placeholder) {
				matches = append(matches, cand)
			}
		}

		switch {
		case len(matches) == 0:
			params[name] = sup.Values
		case len(matches) == active:
			value := encodePathValue(sup.Values)
			for _, cand := range matches {
				cand.path = strings.ReplaceAll(cand.path, placeholder, value)
			}
		default:
			// The placeholder appears in exactly one of two active
			// templates: that argument selects it.
			value := encodePathValue(sup.Values)
			matches[0].path = strings.ReplaceAll(matches[0].path, placeholder, value)
			for _, cand := range candidates {
				if !cand.discarded && cand != matches[0] {
					cand.discarded = true
				}
			}
		}
	}

	var complete, remaining []*candidate
	for _, cand := range candidates {
		if cand.discarded {
			continue
		}
		remaining = append(remaining, cand)
		if !placeholderRe.MatchString(cand.path) {
			complete = append(complete, cand)
		}
	}

	switch len(complete) {
	case 1:
		return Request{
			Method: complete[0].method,
			URI:    cleanURI(complete[0].path),
			Params: params,
		}, nil
	case 0:
		paths := make([]string, 0, len(remaining))
		for _, cand := range remaining {
			paths = append(paths, cand.path)
		}
		return Request{}, &AmbiguousTemplateError{
			Action: action.Name,
			Reason: fmt.Sprintf("unresolved placeholder left in %s", strings.Join(paths, " and ")),
		}
	default:
		return Request{}, &AmbiguousTemplateError{
			Action: action.Name,
			Reason: fmt.Sprintf("%d templates resolved completely, cannot choose between them", len(complete)),
		}
	}
}

func (a *Action) argumentForFlag(flag string) *Argument {
	canonical := strings.ReplaceAll(strings.TrimLeft(flag, "-"), "-", "_")
	for _, arg := range a.Arguments {
		if arg.Flag == flag || (arg.Full != "" && arg.Full == flag) || arg.Name() == canonical {
			return arg
		}
	}
	return nil
}

// encodePathValue renders a value for URI substitution: multi-value
// sequences are joined with "%20", and spaces inside individual values are
// encoded the same way so the path stays a single segment per placeholder.
func encodePathValue(values []string) string {
	joined := strings.Join(values, "%20")
	return strings.ReplaceAll(joined, " ", "%20")
}

func cleanURI(uri string) string {
	for strings.Contains(uri, "//") {
		uri = strings.ReplaceAll(uri, "//", "/")
	}
	return uri
}
