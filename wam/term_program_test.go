package wam

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProgramSplitsMultipleClauses(t *testing.T) {
	src := `
		edge(a, b).
		edge(b, c).
		path(X, Y) :- edge(X, Y).
		path(X, Y) :- edge(X, Z), path(Z, Y).
	`
	clauses, err := ParseProgram(src)
	require.NoError(t, err)
	require.Len(t, clauses, 4)
	require.Equal(t, "edge", clauses[0].Head.Name)
	require.Equal(t, "path", clauses[2].Head.Name)
	require.Len(t, clauses[3].Body, 2)
}

func TestParseProgramIgnoresDotInsideQuotedAtom(t *testing.T) {
	src := `abbrev('e.g.').`
	clauses, err := ParseProgram(src)
	require.NoError(t, err)
	require.Len(t, clauses, 1)
	require.Equal(t, "abbrev", clauses[0].Head.Name)
}

func TestParseProgramRejectsTrailingContent(t *testing.T) {
	_, err := ParseProgram("foo(a). bar")
	require.Error(t, err)
}

func TestParseProgramEmptySourceYieldsNoClauses(t *testing.T) {
	clauses, err := ParseProgram("   \n  ")
	require.NoError(t, err)
	require.Empty(t, clauses)
}
