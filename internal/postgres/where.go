package postgres

import (
	"fmt"
	"strings"
)

// Where accumulates AND-ed conditions with positional args. A "?" in a
// condition is replaced by the next $n placeholder.
type Where struct {
	conds []string
	args  []any
}

func (w *Where) Add(cond string, args ...any) *Where {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
	return w
}

// Arg appends a value without a condition and returns its placeholder,
// for LIMIT/OFFSET and similar.
func (w *Where) Arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *Where) SQL() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *Where) Args() []any { return w.args }

// Like escapes s for use inside an ILIKE '%...%' pattern.
func Like(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
