package wam

// ClauseAlloc holds the clause-wide register allocator analysis that can
// only be done by looking at the whole clause at once (spec.md §4.2
// rules 4 and 5): which variables are permanent, in what order their
// Y-slots are assigned, where each variable last occurs (so the
// compiler knows how far to trim the environment at each call), and
// which permanent variables need the "unsafe" (globalizing) treatment.
//
// Temporary-register numbering for individual sub-terms (rules 1-3) is
// assigned on the fly by the instruction compiler as it flattens and
// emits each head/goal, since that numbering is inseparable from
// emission order; see compile.go's compileCtx.
type ClauseAlloc struct {
	// Permanent reports, for each variable name occurring anywhere in the
	// clause, whether it is permanent (occurs in more than one of the
	// head-as-goal-0 / body-goal-1..m slots).
	Permanent map[string]bool

	// PermOrder lists permanent variable names in first-occurrence order;
	// PermOrder[i] occupies environment slot Y(i+1).
	PermOrder []string

	// PermSlot maps a permanent variable's name to its 1-based Y index.
	PermSlot map[string]int

	// LastGoal maps a variable's name to the highest goal index (0 = head,
	// 1..len(Body) = body goals) in which it occurs.
	LastGoal map[string]int

	// Unsafe marks permanent variables whose last occurrence is only as a
	// direct (non-nested) argument of the last goal they occur in — these
	// need put_unsafe_val / set_local_val / unify_local_val treatment so a
	// reference into a soon-to-be-deallocated environment frame never
	// leaks onto the heap (spec.md §4.2 rule 5, §3 invariant 6).
	Unsafe map[string]bool

	// Singleton marks a variable that occurs exactly once in the whole
	// clause: its value is never read back, so the instruction compiler
	// compiles its nested occurrences as void slots (set_void/unify_void)
	// rather than spending a register on it. A bare "_" is always a
	// distinct fresh singleton per occurrence (see PrecompileClause's
	// sibling, the anonymizer in compile.go), so this naturally also
	// covers the conventional Prolog "don't care" variable.
	Singleton map[string]bool
}

// AllocateClause runs the global permanent-variable analysis over one
// clause. body may be empty (a fact).
func AllocateClause(head Functor, body []Functor) ClauseAlloc {
	// goalsOf[name] = set of goal indices (0=head, 1..m=body) the
	// variable occurs in, and whether every occurrence in a given goal is
	// a direct (non-nested) argument of that goal.
	goalsOf := map[string]map[int]bool{}
	directOnly := map[string]map[int]bool{} // per (name, goal) - all occurrences so far direct?
	sawAny := map[string]map[int]bool{}

	count := map[string]int{}

	note := func(name string, goal int, direct bool) {
		if goalsOf[name] == nil {
			goalsOf[name] = map[int]bool{}
			directOnly[name] = map[int]bool{}
			sawAny[name] = map[int]bool{}
		}
		goalsOf[name][goal] = true
		if !sawAny[name][goal] {
			directOnly[name][goal] = direct
		} else if !direct {
			directOnly[name][goal] = false
		}
		sawAny[name][goal] = true
		count[name]++
	}

	var walkNested func(t Term, goal int)
	walkNested = func(t Term, goal int) {
		switch x := t.(type) {
		case Var:
			note(x.Name, goal, false)
		case Functor:
			for _, a := range x.Args {
				walkNested(a, goal)
			}
		}
	}

	walkTopArgs := func(args []Term, goal int) {
		for _, a := range args {
			switch x := a.(type) {
			case Var:
				note(x.Name, goal, true)
			case Functor:
				for _, sub := range x.Args {
					walkNested(sub, goal)
				}
			}
		}
	}

	walkTopArgs(head.Args, 0)
	for i, g := range body {
		walkTopArgs(g.Args, i+1)
	}

	alloc := ClauseAlloc{
		Permanent: map[string]bool{},
		PermSlot:  map[string]int{},
		LastGoal:  map[string]int{},
		Unsafe:    map[string]bool{},
		Singleton: map[string]bool{},
	}

	for name, n := range count {
		alloc.Singleton[name] = n == 1
	}

	// Deterministic first-occurrence order: walk head then body again,
	// each goal's arguments breadth-first and left to right, recording
	// each variable the first time it is seen anywhere.
	seen := map[string]bool{}
	var order []string
	collect := func(args []Term) {
		queue := append([]Term(nil), args...)
		for len(queue) > 0 {
			t := queue[0]
			queue = queue[1:]
			switch x := t.(type) {
			case Var:
				if !seen[x.Name] {
					seen[x.Name] = true
					order = append(order, x.Name)
				}
			case Functor:
				queue = append(queue, x.Args...)
			}
		}
	}
	collect(head.Args)
	for _, g := range body {
		collect(g.Args)
	}

	for name, goals := range goalsOf {
		alloc.Permanent[name] = len(goals) > 1
		last := -1
		for gi := range goals {
			if gi > last {
				last = gi
			}
		}
		alloc.LastGoal[name] = last
	}

	for _, name := range order {
		if alloc.Permanent[name] {
			alloc.PermOrder = append(alloc.PermOrder, name)
			alloc.PermSlot[name] = len(alloc.PermOrder)
		}
	}

	for name := range goalsOf {
		if !alloc.Permanent[name] {
			continue
		}
		last := alloc.LastGoal[name]
		if last >= 1 && directOnly[name][last] {
			alloc.Unsafe[name] = true
		}
	}

	return alloc
}

// NumPermanent reports how many environment slots a clause needs.
func (a ClauseAlloc) NumPermanent() int { return len(a.PermOrder) }
