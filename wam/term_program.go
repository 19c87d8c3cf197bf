package wam

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseProgram splits src into its top-level clauses (each ending in a
// bare "." outside a quoted atom) and parses each with ParseClause.
// This, like ParseClause/ParseQuery, exists only for this engine's own
// tests and the cmd/wam CLI — the real source-to-syntax-tree parser is
// an external collaborator out of scope for this package (spec.md §1).
func ParseProgram(src string) ([]Clause, error) {
	chunks, err := splitClauses(src)
	if err != nil {
		return nil, err
	}
	out := make([]Clause, 0, len(chunks))
	for _, chunk := range chunks {
		c, err := ParseClause(chunk)
		if err != nil {
			return nil, errors.Wrapf(err, "parse clause %q", chunk)
		}
		out = append(out, c)
	}
	return out, nil
}

// splitClauses breaks src on each "." that is not inside a quoted atom.
func splitClauses(src string) ([]string, error) {
	var chunks []string
	var cur strings.Builder
	inQuote := false
	for _, r := range src {
		cur.WriteRune(r)
		if r == '\'' {
			inQuote = !inQuote
		}
		if r == '.' && !inQuote {
			chunk := strings.TrimSpace(cur.String())
			if chunk != "." {
				chunks = append(chunks, chunk)
			}
			cur.Reset()
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		return nil, errors.New("trailing content after last clause")
	}
	return chunks, nil
}
