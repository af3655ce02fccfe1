package vectorstore

import (
	"maps"
	"slices"
	"strings"
)

// registryTable records the dimension and capability of every table created
// through a SQL backend.
const registryTable = "docsearch_tables"

// rowColumns is the shared select list; vector_json is read separately.
const rowColumns = "id, content, file_name, page_number, chunk_index, owner, session, kind, attributes"

// attrExpr renders the SQL expression extracting the attribute named by the
// placeholder key from the attributes column.
type attrExpr func(key string) string

// filterClause renders f as "AND col = <ph>" terms. ph returns the
// placeholder for the n-th argument, counted from next. Attribute terms are
// emitted in key order through attr.
func filterClause(f Filter, next int, ph func(int) string, attr attrExpr) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		b.WriteString(" AND ")
		b.WriteString(col)
		b.WriteString(" = ")
		b.WriteString(ph(next + len(args)))
		args = append(args, val)
	}
	add("owner", f.Owner)
	add("session", f.Session)
	add("kind", f.Kind)
	for _, k := range slices.Sorted(maps.Keys(f.Attributes)) {
		key := ph(next + len(args))
		args = append(args, k)
		b.WriteString(" AND ")
		b.WriteString(attr(key))
		b.WriteString(" = ")
		b.WriteString(ph(next + len(args)))
		args = append(args, f.Attributes[k])
	}
	return b.String(), args
}

// nullString maps "" to nil so optional columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
