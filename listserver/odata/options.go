package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dekarrin/jellypoint/internal/jelsort"
)

// MetadataField is kept in every entity regardless of $select.
const MetadataField = "__metadata"

// OrderTerm is one field of an $orderby option.
type OrderTerm struct {
	Field string
	Desc  bool
}

// Options are the system query options of a request. Top and Skip are -1 if
// they were not given.
type Options struct {
	Select  []string
	Filter  Filter
	OrderBy []OrderTerm
	Top     int
	Skip    int
}

// ParseOptions reads $select, $filter, $orderby, $top and $skip from q.
func ParseOptions(q url.Values) (Options, error) {
	opts := Options{Top: -1, Skip: -1}

	if sel := strings.TrimSpace(q.Get("$select")); sel != "" {
		for _, f := range strings.Split(sel, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				return opts, fmt.Errorf("$select: empty field name")
			}
			opts.Select = append(opts.Select, f)
		}
	}

	if q.Has("$filter") {
		f, err := ParseFilter(q.Get("$filter"))
		if err != nil {
			return opts, fmt.Errorf("$filter: %w", err)
		}
		opts.Filter = f
	}

	if ob := strings.TrimSpace(q.Get("$orderby")); ob != "" {
		terms, err := ParseOrderBy(ob)
		if err != nil {
			return opts, fmt.Errorf("$orderby: %w", err)
		}
		opts.OrderBy = terms
	}

	var err error
	if opts.Top, err = parseCount(q, "$top"); err != nil {
		return opts, err
	}
	if opts.Skip, err = parseCount(q, "$skip"); err != nil {
		return opts, err
	}

	return opts, nil
}

func parseCount(q url.Values, key string) (int, error) {
	if !q.Has(key) {
		return -1, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(q.Get(key)))
	if err != nil || n < 0 {
		return -1, fmt.Errorf("%s: %q is not a non-negative integer", key, q.Get(key))
	}
	return n, nil
}

// ParseOrderBy parses a comma-separated list of fields, each optionally
// followed by asc or desc.
func ParseOrderBy(s string) ([]OrderTerm, error) {
	var terms []OrderTerm
	for _, part := range strings.Split(s, ",") {
		words := strings.Fields(part)
		switch len(words) {
		case 1:
			terms = append(terms, OrderTerm{Field: words[0]})
		case 2:
			switch strings.ToLower(words[1]) {
			case "asc":
				terms = append(terms, OrderTerm{Field: words[0]})
			case "desc":
				terms = append(terms, OrderTerm{Field: words[0], Desc: true})
			default:
				return nil, fmt.Errorf("unknown direction %q", words[1])
			}
		default:
			return nil, fmt.Errorf("invalid term %q", strings.TrimSpace(part))
		}
	}
	return terms, nil
}

// Apply filters, orders, pages and projects entities, in that order. The
// input slice is not modified.
func (opts Options) Apply(entities []Entity) []Entity {
	var result []Entity
	for _, e := range entities {
		if opts.Filter.Match(e) {
			result = append(result, e)
		}
	}

	if len(opts.OrderBy) > 0 {
		result = jelsort.By(result, opts.less)
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(result) {
			result = nil
		} else {
			result = result[opts.Skip:]
		}
	}
	if opts.Top >= 0 && opts.Top < len(result) {
		result = result[:opts.Top]
	}

	if len(opts.Select) > 0 {
		projected := make([]Entity, len(result))
		for i := range result {
			projected[i] = opts.Project(result[i])
		}
		result = projected
	}

	if result == nil {
		result = []Entity{}
	}
	return result
}

// Project keeps only the fields of e named in $select, along with the entity
// metadata. If nothing was selected e is returned unchanged.
func (opts Options) Project(e Entity) Entity {
	if len(opts.Select) == 0 {
		return e
	}

	out := Entity{}
	if md, ok := e[MetadataField]; ok {
		out[MetadataField] = md
	}
	for _, f := range opts.Select {
		if f == "*" {
			for k, v := range e {
				out[k] = v
			}
			continue
		}
		if v, ok := e[f]; ok {
			out[f] = v
			continue
		}
		for k, v := range e {
			if strings.EqualFold(k, f) {
				out[k] = v
			}
		}
	}
	return out
}

func (opts Options) less(a, b Entity) bool {
	for _, term := range opts.OrderBy {
		av := normalize(lookup(a, term.Field))
		bv := normalize(lookup(b, term.Field))

		var c int
		switch {
		case av == nil && bv == nil:
			c = 0
		case av == nil:
			c = -1
		case bv == nil:
			c = 1
		default:
			var ok bool
			c, ok = compareValues(av, bv)
			if !ok {
				c = strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
			}
		}

		if term.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}
