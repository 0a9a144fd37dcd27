package cssmerge

import "strings"

// MaxVarDepth bounds the substitution passes of ResolveVar so that
// variable cycles terminate.
const MaxVarDepth = 10

// ResolveVar substitutes var(--name[, fallback]) references. Each pass
// replaces every reference once; it stops after a pass that replaced
// nothing or after MaxVarDepth passes, leaving any remaining reference as
// literal text. An undefined variable without a fallback becomes "".
func ResolveVar(value string, vars map[string]string) string {
	result := value
	for depth := 0; depth < MaxVarDepth; depth++ {
		next, replaced := substituteVars(result, vars)
		result = next
		if !replaced {
			break
		}
	}
	return result
}

func substituteVars(s string, vars map[string]string) (string, bool) {
	var b strings.Builder
	replaced := false
	i := 0
	for {
		j := indexVar(s, i)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		open := j + len("var")
		end := matchParen(s, open)
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i:j])
		name, fallback, hasFallback := splitVarArgs(s[open+1 : end])
		switch {
		case !strings.HasPrefix(name, "--"):
			b.WriteString(s[j : end+1])
		case hasVar(vars, name):
			b.WriteString(vars[name])
			replaced = true
		case hasFallback:
			b.WriteString(fallback)
			replaced = true
		}
		i = end + 1
	}
	return b.String(), replaced
}

func hasVar(vars map[string]string, name string) bool {
	_, ok := vars[name]
	return ok
}

// indexVar finds the next "var(" at or after from that is not the tail of
// a longer identifier.
func indexVar(s string, from int) int {
	for from < len(s) {
		k := strings.Index(s[from:], "var(")
		if k < 0 {
			return -1
		}
		at := from + k
		if at == 0 || !isIdentByte(s[at-1]) {
			return at
		}
		from = at + 1
	}
	return -1
}

func isIdentByte(c byte) bool {
	return c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// matchParen returns the index of the ')' closing the '(' at open, skipping
// quoted strings, or -1.
func matchParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitVarArgs splits "--name, fallback" at the first top-level comma.
func splitVarArgs(inner string) (name, fallback string, ok bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			return strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+1:]), true
		}
	}
	return strings.TrimSpace(inner), "", false
}
