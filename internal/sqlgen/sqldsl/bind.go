package sqldsl

import (
	"strconv"
	"strings"
)

// argMark delimits bind argument tokens in rendered SQL. It cannot occur in
// identifiers or in any text the DSL emits.
const argMark = '\x1a'

// Binder collects bind arguments for one statement.
// The zero value is ready to use. Not safe for concurrent use.
type Binder struct {
	values []any
	wraps  []func(string) string
}

// Arg registers v and returns the expression standing for it.
func (b *Binder) Arg(v any) Expr {
	return b.ArgWrapped(v, nil)
}

// ArgWrapped registers v with a wrapper applied to its placeholder, e.g. a
// geometry constructor.
func (b *Binder) ArgWrapped(v any, wrap func(string) string) Expr {
	b.values = append(b.values, v)
	b.wraps = append(b.wraps, wrap)
	return argRef(len(b.values) - 1)
}

// Len returns the number of registered arguments.
func (b *Binder) Len() int { return len(b.values) }

type argRef int

func (a argRef) SQL() string {
	return string(argMark) + strconv.Itoa(int(a)) + string(argMark)
}

// Bind replaces argument tokens in sql with placeholders numbered in text
// order and returns the arguments in the same order. An argument rendered
// twice is bound twice.
func (b *Binder) Bind(sql string, placeholder func(n int) string) (string, []any) {
	var sb strings.Builder
	sb.Grow(len(sql))
	args := make([]any, 0, len(b.values))
	for {
		start := strings.IndexByte(sql, argMark)
		if start < 0 {
			sb.WriteString(sql)
			break
		}
		end := strings.IndexByte(sql[start+1:], argMark)
		if end < 0 {
			sb.WriteString(sql)
			break
		}
		end += start + 1
		idx, err := strconv.Atoi(sql[start+1 : end])
		if err != nil || idx < 0 || idx >= len(b.values) {
			sb.WriteString(sql[:end+1])
			sql = sql[end+1:]
			continue
		}
		sb.WriteString(sql[:start])
		args = append(args, b.values[idx])
		ph := placeholder(len(args))
		if w := b.wraps[idx]; w != nil {
			ph = w(ph)
		}
		sb.WriteString(ph)
		sql = sql[end+1:]
	}
	return sb.String(), args
}
