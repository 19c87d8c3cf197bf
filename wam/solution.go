package wam

import "fmt"

// Solution is one answer to a query: a binding from each of its
// user-named variables to the term it decoded to (spec.md §6's
// "run(query) -> iterator of solutions", each solution "a map from
// named query variables to decoded terms"). Variables synthesized by
// the anonymizer for a bare "_" are never reported here — they exist
// only to give AllocateClause something to key a permanent slot on.
type Solution map[string]Term

// decode reads back the term currently bound at c, recursively
// resolving REF chains, STR/LIS substructure and CON atoms into a
// Term tree (the inverse of the put_*/set_* construction instructions;
// spec.md §6's top-level decode(heap_address) -> Term).
func (m *Machine) decode(c Cell) Term {
	d := m.deref(c)
	switch d.Tag() {
	case RefTag:
		return Var{Name: fmt.Sprintf("_G%d", d.Addr())}
	case ConTag:
		name, _, ok := m.Interner.DeinternFunctor(d.FunctorID())
		if !ok {
			return Atom(fmt.Sprintf("?const_%d?", d.FunctorID()))
		}
		return Atom(name)
	case StrTag:
		word := m.Heap[d.Addr()]
		nameID, arity := DecodeFunctorWord(word)
		name, _, ok := m.Interner.DeinternFunctor(nameID)
		if !ok {
			name = fmt.Sprintf("?functor_%d?", nameID)
		}
		args := make([]Term, arity)
		for i := 0; i < int(arity); i++ {
			args[i] = m.decode(m.Heap[d.Addr()+1+i])
		}
		return Functor{Name: name, Args: args}
	case LisTag:
		head := m.decode(m.Heap[d.Addr()])
		tail := m.decode(m.Heap[d.Addr()+1])
		return Cons(head, tail)
	default:
		return Atom("?corrupt?")
	}
}

// decodeSolution reads every reported query variable out of the
// environment frame active when the machine last suspended.
func (m *Machine) decodeSolution(pq *PreparedQuery) Solution {
	sol := make(Solution, len(pq.VarSlot))
	f := m.frames[m.E]
	for name, slot := range pq.VarSlot {
		sol[name] = m.decode(f.slots[slot-1])
	}
	return sol
}

// SolutionIterator pulls successive answers to one prepared query out
// of a Machine, driving the {RUN,BACKTRACK,HALT_SUCCESS,HALT_FAIL}
// state machine forward on each call — backtracking into the
// remaining choice points left over from the previous answer instead
// of restarting the search (spec.md §6's "run(query)" as a pull-based
// iterator, not an eager list of all solutions).
type SolutionIterator struct {
	m       *Machine
	pq      *PreparedQuery
	started bool
	done    bool
}

// Solutions prepares an iterator over m's answers to pq. m must not
// already be mid-query; call m.Reset first if it was used before.
func (m *Machine) Solutions(pq *PreparedQuery) *SolutionIterator {
	return &SolutionIterator{m: m, pq: pq}
}

// Next advances to the next solution, returning ok=false once the
// search is exhausted (spec.md §7 item 4: exhaustion is reported, not
// an error).
func (it *SolutionIterator) Next() (Solution, bool, error) {
	if it.done {
		return nil, false, nil
	}
	var state execState
	var err error
	if !it.started {
		it.started = true
		it.m.P = it.pq.Entry
		state, err = it.m.runLoop()
	} else {
		state, err = it.m.resumeLoop()
	}
	if err != nil {
		it.done = true
		return nil, false, err
	}
	if state != stateHaltSuccess {
		it.done = true
		return nil, false, nil
	}
	return it.m.decodeSolution(it.pq), true, nil
}
