package wam

// PrecompileClause expands one parsed clause into one or more
// disjunction-free, conjunction-flattened clauses ready for the
// instruction compiler (spec.md §4 "pre-compiler" stage): ";"/2 goals
// are resolved by clause duplication (H :- A ; B becomes the two
// clauses H :- A. and H :- B.), ","/2 goals occurring inside a body
// (from a parenthesized sub-conjunction) are flattened into the
// surrounding goal sequence, and "!" is left in place as an ordinary
// goal — the instruction compiler recognizes it by name and emits a
// dedicated cut instruction rather than a call.
func PrecompileClause(c Clause) []Clause {
	bodies := expandDisjunction(c.Body)
	out := make([]Clause, len(bodies))
	for i, b := range bodies {
		out[i] = Clause{Head: c.Head, Body: flattenConjunction(b)}
	}
	return out
}

// PrecompileQuery flattens a query body the same way a clause body is
// flattened. Queries have no head, so disjunction in a query expands
// into independent alternative queries the caller may run in turn;
// most callers only ever write conjunctive queries, so this is rarely
// exercised in practice.
func PrecompileQuery(q Query) []Query {
	bodies := expandDisjunction(q.Goals)
	out := make([]Query, len(bodies))
	for i, b := range bodies {
		out[i] = Query{Goals: flattenConjunction(b)}
	}
	return out
}

// expandDisjunction distributes top-level ";"/2 goals into separate
// goal-sequence alternatives. A body with no disjunction returns a
// single-element slice containing the body unchanged.
func expandDisjunction(body []Functor) [][]Functor {
	alts := [][]Functor{nil}
	for _, g := range body {
		if g.Name == ";" && len(g.Args) == 2 {
			left, lok := g.Args[0].(Functor)
			right, rok := g.Args[1].(Functor)
			if lok && rok {
				leftAlts := expandDisjunction([]Functor{left})
				rightAlts := expandDisjunction([]Functor{right})
				var next [][]Functor
				for _, prefix := range alts {
					for _, la := range leftAlts {
						next = append(next, appendGoals(prefix, la))
					}
					for _, ra := range rightAlts {
						next = append(next, appendGoals(prefix, ra))
					}
				}
				alts = next
				continue
			}
		}
		for i := range alts {
			alts[i] = append(alts[i], g)
		}
	}
	return alts
}

func appendGoals(prefix, suffix []Functor) []Functor {
	out := make([]Functor, 0, len(prefix)+len(suffix))
	out = append(out, prefix...)
	out = append(out, suffix...)
	return out
}

// flattenConjunction inlines any ","/2 goal into its two operands,
// recursively, so the compiler only ever sees a flat goal sequence.
func flattenConjunction(body []Functor) []Functor {
	var out []Functor
	for _, g := range body {
		if g.Name == "," && len(g.Args) == 2 {
			left, lok := g.Args[0].(Functor)
			right, rok := g.Args[1].(Functor)
			if lok && rok {
				out = append(out, flattenConjunction([]Functor{left})...)
				out = append(out, flattenConjunction([]Functor{right})...)
				continue
			}
		}
		out = append(out, g)
	}
	return out
}

// IsCutGoal reports whether g is the "!" control construct rather than
// a callable user/built-in predicate.
func IsCutGoal(g Functor) bool { return g.Name == "!" && len(g.Args) == 0 }
