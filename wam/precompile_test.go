package wam

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrecompileClauseExpandsDisjunction(t *testing.T) {
	// p(X) :- q(X) ; r(X).
	c := Clause{
		Head: Functor{Name: "p", Args: []Term{Var{Name: "X"}}},
		Body: []Functor{
			{Name: ";", Args: []Term{
				Functor{Name: "q", Args: []Term{Var{Name: "X"}}},
				Functor{Name: "r", Args: []Term{Var{Name: "X"}}},
			}},
		},
	}

	out := PrecompileClause(c)
	require.Len(t, out, 2)
	require.Equal(t, "q", out[0].Body[0].Name)
	require.Equal(t, "r", out[1].Body[0].Name)
	require.Equal(t, c.Head, out[0].Head)
	require.Equal(t, c.Head, out[1].Head)
}

func TestPrecompileClauseFlattensConjunction(t *testing.T) {
	// p :- (q, r), s.
	c := Clause{
		Head: Functor{Name: "p"},
		Body: []Functor{
			{Name: ",", Args: []Term{
				Functor{Name: "q"},
				Functor{Name: "r"},
			}},
			{Name: "s"},
		},
	}

	out := PrecompileClause(c)
	require.Len(t, out, 1)
	require.Equal(t, []string{"q", "r", "s"}, goalNames(out[0].Body))
}

func TestPrecompileClauseLeavesOrdinaryBodyAlone(t *testing.T) {
	c := Clause{
		Head: Functor{Name: "p"},
		Body: []Functor{{Name: "q"}, {Name: "!"}, {Name: "r"}},
	}
	out := PrecompileClause(c)
	require.Len(t, out, 1)
	require.Equal(t, []string{"q", "!", "r"}, goalNames(out[0].Body))
}

func TestIsCutGoal(t *testing.T) {
	require.True(t, IsCutGoal(Functor{Name: "!"}))
	require.False(t, IsCutGoal(Functor{Name: "!", Args: []Term{Atom("x")}}))
	require.False(t, IsCutGoal(Functor{Name: "foo"}))
}

func goalNames(body []Functor) []string {
	names := make([]string, len(body))
	for i, g := range body {
		names[i] = g.Name
	}
	return names
}
