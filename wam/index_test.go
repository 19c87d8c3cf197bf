package wam

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests exercise first-argument indexing (switch_on_term plus its
// switch_on_const/switch_on_struc tables): that a query whose first
// argument is already bound to a const or struct jumps straight to the
// matching clause without trying the others, and that a query whose
// first argument is unbound still sees every clause in original order —
// the "indexing neutrality" property.

func indexedFixture(t *testing.T) *Compiler {
	t.Helper()
	return compileProgram(t,
		"item(a,one).",
		"item(f(x),two).",
		"item(b,three).",
		"item(g(y),four).",
		"item(c,five).",
	)
}

func collectV(t *testing.T, m *Machine, pq *PreparedQuery) []Term {
	t.Helper()
	it := m.Solutions(pq)
	var got []Term
	for {
		sol, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, sol["V"])
	}
	return got
}

func TestIndexingNeutralityPreservesClauseOrderForUnboundFirstArg(t *testing.T) {
	comp := indexedFixture(t)
	m, pq := runQuery(t, comp, "item(K,V)")
	got := collectV(t, m, pq)
	require.Equal(t, []Term{Atom("one"), Atom("two"), Atom("three"), Atom("four"), Atom("five")}, got)
}

func TestSwitchOnConstDispatchesDirectlyToMatchingClause(t *testing.T) {
	comp := indexedFixture(t)
	m, pq := runQuery(t, comp, "item(b,V)")
	got := collectV(t, m, pq)
	require.Equal(t, []Term{Atom("three")}, got)
}

func TestSwitchOnStrucDispatchesDirectlyToMatchingClause(t *testing.T) {
	comp := indexedFixture(t)
	m, pq := runQuery(t, comp, "item(g(y),V)")
	got := collectV(t, m, pq)
	require.Equal(t, []Term{Atom("four")}, got)
}

func TestSwitchOnConstFailsFastOnUnmatchedConstant(t *testing.T) {
	comp := indexedFixture(t)
	m, pq := runQuery(t, comp, "item(zzz,V)")
	got := collectV(t, m, pq)
	require.Empty(t, got)
}

func TestSwitchOnStrucFailsFastOnUnmatchedFunctor(t *testing.T) {
	comp := indexedFixture(t)
	m, pq := runQuery(t, comp, "item(h(y),V)")
	got := collectV(t, m, pq)
	require.Empty(t, got)
}

// A mix of variable-headed and non-variable-headed clauses must route
// the variable-headed ones onto every dispatch path (a bound query can
// still match them) while keeping its place in the original chain order.
func TestIndexingRoutesVariableHeadedClausesOntoEveryDispatchPath(t *testing.T) {
	comp := compileProgram(t,
		"choice(a,first).",
		"choice(X,fallback).",
		"choice(b,second).",
	)

	m, pq := runQuery(t, comp, "choice(a,V)")
	got := collectV(t, m, pq)
	require.Equal(t, []Term{Atom("first"), Atom("fallback")}, got)

	m, pq = runQuery(t, comp, "choice(c,V)")
	got = collectV(t, m, pq)
	require.Equal(t, []Term{Atom("fallback")}, got)
}
