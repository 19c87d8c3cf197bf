package wam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMachine() *Machine {
	return NewMachine(NewInterner(), nil, nil)
}

func TestDerefIdempotentOnUnboundRef(t *testing.T) {
	m := newTestMachine()
	addr := m.pushCell(Cell(0))
	m.Heap[addr] = NewCell(RefTag, uint64(addr))
	c := NewCell(RefTag, uint64(addr))
	require.Equal(t, m.deref(c), m.deref(m.deref(c)))
}

func TestDerefFollowsChainToNonRef(t *testing.T) {
	m := newTestMachine()
	con := m.pushCell(NewCell(ConTag, 7))
	ref1 := m.pushCell(NewCell(RefTag, uint64(con)))
	ref2 := m.pushCell(NewCell(RefTag, uint64(ref1)))
	require.Equal(t, NewCell(ConTag, 7), m.deref(NewCell(RefTag, uint64(ref2))))
}

func TestBindPrefersBindingYoungerToOlder(t *testing.T) {
	m := newTestMachine()
	older := m.pushCell(Cell(0))
	m.Heap[older] = NewCell(RefTag, uint64(older))
	younger := m.pushCell(Cell(0))
	m.Heap[younger] = NewCell(RefTag, uint64(younger))

	m.bind(NewCell(RefTag, uint64(older)), NewCell(RefTag, uint64(younger)))

	// The higher address (younger) should now point at the lower one.
	require.Equal(t, NewCell(RefTag, uint64(older)), m.Heap[younger])
	require.Equal(t, NewCell(RefTag, uint64(older)), m.Heap[older])
}

func TestBindTrailsOnlyWhenAtOrBelowHB(t *testing.T) {
	m := newTestMachine()
	addr := m.pushCell(Cell(0))
	m.Heap[addr] = NewCell(RefTag, uint64(addr))
	m.HB = addr // pretend a choice point exists at/above this address

	m.bindAddr(addr, NewCell(ConTag, 1))
	require.Equal(t, []int{addr}, m.Trail)

	addr2 := m.pushCell(Cell(0))
	m.Heap[addr2] = NewCell(RefTag, uint64(addr2))
	m.HB = addr - 1 // choice point predates addr2

	m.bindAddr(addr2, NewCell(ConTag, 2))
	require.Equal(t, []int{addr}, m.Trail) // unchanged: addr2 > HB, not trailed
}

func TestUnifyTwoUnboundRefsBindsOne(t *testing.T) {
	m := newTestMachine()
	a := m.pushCell(Cell(0))
	m.Heap[a] = NewCell(RefTag, uint64(a))
	b := m.pushCell(Cell(0))
	m.Heap[b] = NewCell(RefTag, uint64(b))

	require.True(t, m.unify(NewCell(RefTag, uint64(a)), NewCell(RefTag, uint64(b))))
	require.Equal(t, m.deref(NewCell(RefTag, uint64(a))), m.deref(NewCell(RefTag, uint64(b))))
}

func TestUnifyMatchingStructures(t *testing.T) {
	m := newTestMachine()
	fID := m.Interner.InternFunctor("f", 2)

	buildF := func(a, b Cell) Cell {
		strAddr := m.H
		m.pushCell(NewCell(StrTag, uint64(m.H+1)))
		m.pushCell(FunctorWord(fID, 2))
		m.pushCell(a)
		m.pushCell(b)
		return m.Heap[strAddr]
	}

	con1 := NewCell(ConTag, uint64(m.Interner.InternFunctor("a", 0)))
	con2 := NewCell(ConTag, uint64(m.Interner.InternFunctor("b", 0)))
	t1 := buildF(con1, con2)
	t2 := buildF(con1, con2)

	require.True(t, m.unify(t1, t2))
}

func TestUnifyMismatchedConstsFails(t *testing.T) {
	m := newTestMachine()
	a := NewCell(ConTag, uint64(m.Interner.InternFunctor("a", 0)))
	b := NewCell(ConTag, uint64(m.Interner.InternFunctor("b", 0)))
	require.False(t, m.unify(a, b))
}

func TestUnifyMismatchedFunctorArityFails(t *testing.T) {
	m := newTestMachine()
	fID := m.Interner.InternFunctor("f", 1)
	gID := m.Interner.InternFunctor("f", 2)

	strAddr1 := m.H
	m.pushCell(NewCell(StrTag, uint64(m.H+1)))
	m.pushCell(FunctorWord(fID, 1))
	m.pushCell(NewCell(ConTag, 1))
	t1 := m.Heap[strAddr1]

	strAddr2 := m.H
	m.pushCell(NewCell(StrTag, uint64(m.H+1)))
	m.pushCell(FunctorWord(gID, 2))
	m.pushCell(NewCell(ConTag, 1))
	m.pushCell(NewCell(ConTag, 1))
	t2 := m.Heap[strAddr2]

	require.False(t, m.unify(t1, t2))
}

func TestBacktrackRestoresStateAndUnbindsTrail(t *testing.T) {
	m := newTestMachine()
	m.X[1] = NewCell(ConTag, 99)
	addr := m.pushCell(Cell(0))
	m.Heap[addr] = NewCell(RefTag, uint64(addr))

	m.pushChoicePoint(42)
	m.bindAddr(addr, NewCell(ConTag, 1)) // trailed since addr <= HB

	m.X[1] = NewCell(ConTag, 0) // clobber post-choicepoint

	ok := m.backtrack()
	require.True(t, ok)
	require.Equal(t, NewCell(ConTag, 99), m.X[1])
	require.Equal(t, NewCell(RefTag, uint64(addr)), m.Heap[addr])
	require.Equal(t, 42, m.P)
	require.Equal(t, 0, len(m.Trail))
}

func TestBacktrackWithNoChoicePointFails(t *testing.T) {
	m := newTestMachine()
	require.False(t, m.backtrack())
}

// A choice point only remembers the environment index it saved (e), not
// its own position in the separate chpts slice (B). A deallocate that
// drops E far below a live choice point's saved e, while that choice
// point is still the low-numbered (even the only) one, must not let
// frameTop() hand out that saved environment's frame index to a new
// allocate_n — backtrack will restore E to it and expects the permanent
// variables there untouched.
func TestFrameTopProtectsLiveChoicePointEnvironmentAcrossDeallocate(t *testing.T) {
	m := newTestMachine()

	m.frames = make([]frame, 10)
	m.frames[9] = frame{prevE: -1, slots: []Cell{NewCell(ConTag, 111)}}
	m.E = 9
	m.pushChoicePoint(77)
	require.Equal(t, 0, m.B, "this is the machine's first and only choice point")
	require.Equal(t, 9, m.chpts[m.B].e)

	// An unrelated deallocate elsewhere drops E far below frame 9 while
	// the choice point (B=0) remains live.
	m.E = -1

	idx := m.frameTop()
	require.Greater(t, idx, 9, "new frame must not land on or below a frame a live choice point still owns")

	for idx >= len(m.frames) {
		m.frames = append(m.frames, frame{})
	}
	m.frames[idx] = frame{prevE: m.E, slots: []Cell{NewCell(ConTag, 222)}}
	m.E = idx

	ok := m.backtrack()
	require.True(t, ok)
	require.Equal(t, 9, m.E)
	require.Equal(t, NewCell(ConTag, 111), m.frames[9].slots[0], "permanent variable clobbered by a reused frame index")
}

// --- End-to-end scenarios driven through the compiler pipeline ---

func compileProgram(t *testing.T, clauses ...string) *Compiler {
	t.Helper()
	in := NewInterner()
	comp := NewCompiler(in)
	byPred := map[PredIndicator][]Clause{}
	var order []PredIndicator
	for _, src := range clauses {
		cl, err := ParseClause(src)
		require.NoError(t, err)
		pred := PredIndicator{Name: cl.Head.Name, Arity: cl.Head.Arity()}
		if _, ok := byPred[pred]; !ok {
			order = append(order, pred)
		}
		byPred[pred] = append(byPred[pred], cl)
	}
	for _, pred := range order {
		var expanded []Clause
		for _, cl := range byPred[pred] {
			expanded = append(expanded, PrecompileClause(cl)...)
		}
		require.NoError(t, comp.CompilePredicate(pred.Name, pred.Arity, expanded))
	}
	return comp
}

func runQuery(t *testing.T, comp *Compiler, query string) (*Machine, *PreparedQuery) {
	t.Helper()
	q, err := ParseQuery(query)
	require.NoError(t, err)
	pq, err := comp.CompileQuery(q)
	require.NoError(t, err)
	require.NoError(t, comp.Link())
	m := NewMachine(comp.Interner, comp.Code(), comp.CallTable())
	m.P = pq.Entry
	return m, pq
}

func TestEndToEndAtomUnification(t *testing.T) {
	comp := compileProgram(t, "likes(alice, bob).")
	m, pq := runQuery(t, comp, "likes(alice, bob)")
	state, err := m.runLoop()
	require.NoError(t, err)
	require.Equal(t, stateHaltSuccess, state)
	require.Empty(t, pq.VarSlot)
}

func TestEndToEndVariableBinding(t *testing.T) {
	comp := compileProgram(t, "likes(alice, bob).")
	m, pq := runQuery(t, comp, "likes(alice, X)")
	state, err := m.runLoop()
	require.NoError(t, err)
	require.Equal(t, stateHaltSuccess, state)
	sol := m.decodeSolution(pq)
	require.Equal(t, Atom("bob"), sol["X"])
}

func TestEndToEndStructureMatching(t *testing.T) {
	comp := compileProgram(t, "point(p(one,two)).")
	m, pq := runQuery(t, comp, "point(p(X,Y))")
	state, err := m.runLoop()
	require.NoError(t, err)
	require.Equal(t, stateHaltSuccess, state)
	sol := m.decodeSolution(pq)
	require.Equal(t, Atom("one"), sol["X"])
	require.Equal(t, Atom("two"), sol["Y"])
}

func TestEndToEndConjunctionAndBacktracking(t *testing.T) {
	comp := compileProgram(t,
		"edge(a,b).",
		"edge(b,c).",
		"edge(a,c).",
	)
	m, pq := runQuery(t, comp, "edge(a,X)")
	it := m.Solutions(pq)

	var got []Term
	for {
		sol, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, sol["X"])
	}
	require.Equal(t, []Term{Atom("b"), Atom("c")}, got)
}

func TestEndToEndChainedVariablePropagation(t *testing.T) {
	comp := compileProgram(t,
		"append(nil,L,L).",
		"append(cons(H,T),L,cons(H,R)) :- append(T,L,R).",
	)
	m, pq := runQuery(t, comp, "append(cons(one,nil),cons(two,nil),R)")
	state, err := m.runLoop()
	require.NoError(t, err)
	require.Equal(t, stateHaltSuccess, state)
	sol := m.decodeSolution(pq)
	require.Equal(t, Functor{Name: "cons", Args: []Term{Atom("one"), Functor{Name: "cons", Args: []Term{Atom("two"), Atom("nil")}}}}, sol["R"])
}

// TestTailRecursionDepth10000DoesNotExhaustEnvironmentStack is this
// package's "does last-call optimization actually bound the environment
// stack" proof: a predicate recursive to depth 10,000 must succeed and
// must do so by reusing a small, depth-independent number of frames
// rather than growing one frame per recursive call.
func TestTailRecursionDepth10000DoesNotExhaustEnvironmentStack(t *testing.T) {
	comp := compileProgram(t,
		"count(z).",
		"count(s(N)) :- count(N).",
	)

	const depth = 10000
	var src strings.Builder
	for i := 0; i < depth; i++ {
		src.WriteString("s(")
	}
	src.WriteString("z")
	src.WriteString(strings.Repeat(")", depth))

	m, pq := runQuery(t, comp, "count("+src.String()+")")
	state, err := m.runLoop()
	require.NoError(t, err)
	require.Equal(t, stateHaltSuccess, state)
	require.Empty(t, pq.VarSlot)

	require.Less(t, len(m.frames), 10,
		"environment stack grew with recursion depth instead of being reused by last-call optimization")
}

func TestEndToEndCutPrunesAlternatives(t *testing.T) {
	comp := compileProgram(t,
		"first(a).",
		"first(b).",
		"only(X) :- first(X), !.",
	)
	m, pq := runQuery(t, comp, "only(X)")
	it := m.Solutions(pq)

	var got []Term
	for {
		sol, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, sol["X"])
	}
	require.Equal(t, []Term{Atom("a")}, got)
}
