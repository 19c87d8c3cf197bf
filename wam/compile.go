package wam

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Compiler turns parsed clauses and queries into linked WAM bytecode
// (spec.md §4.6's pipeline). One Compiler accumulates the code and call
// table for an entire program; predicates may be compiled in any order,
// since forward references to not-yet-compiled predicates are patched
// in by Link.
type Compiler struct {
	Interner *Interner

	code      []Instr
	callTable map[PredIndicator]int

	// patches records call/execute instructions still pointing at an
	// unresolved predicate, so Link can fill in Target once every clause
	// has been compiled (or report a LinkError if it never is).
	patches map[PredIndicator][]int
}

// NewCompiler returns an empty compiler sharing in as its name/functor
// interner.
func NewCompiler(in *Interner) *Compiler {
	return &Compiler{
		Interner:  in,
		callTable: map[PredIndicator]int{},
		patches:   map[PredIndicator][]int{},
	}
}

// Code returns the compiled instruction stream so far.
func (c *Compiler) Code() []Instr { return c.code }

// CallTable returns the predicate-name → entry-address mapping compiled
// so far.
func (c *Compiler) CallTable() map[PredIndicator]int {
	out := make(map[PredIndicator]int, len(c.callTable))
	for k, v := range c.callTable {
		out[k] = v
	}
	return out
}

func (c *Compiler) emit(ins Instr) int {
	addr := len(c.code)
	c.code = append(c.code, ins)
	return addr
}

// refer records a call/execute/call_internal instruction's dependency
// on pred, returning the Target value to place in it for now (the real
// entry point if already known, 0 as a placeholder otherwise).
func (c *Compiler) refer(pred PredIndicator, addr int) uint32 {
	if entry, ok := c.callTable[pred]; ok {
		return uint32(entry)
	}
	c.patches[pred] = append(c.patches[pred], addr)
	return 0
}

// Link resolves every recorded forward reference against the current
// call table. It must be called once after all predicates of a load
// unit have been compiled; a predicate still unresolved at that point
// is a fatal LinkError (spec.md §7 item 3).
func (c *Compiler) Link() error {
	var unresolved []PredIndicator
	for pred, addrs := range c.patches {
		entry, ok := c.callTable[pred]
		if !ok {
			unresolved = append(unresolved, pred)
			continue
		}
		for _, addr := range addrs {
			ins := c.code[addr]
			ins.Target = uint32(entry)
			c.code[addr] = ins
		}
		delete(c.patches, pred)
	}
	if len(unresolved) > 0 {
		return &LinkError{Unresolved: unresolved}
	}
	return nil
}

// CompilePredicate compiles every clause of one predicate (all sharing
// name/arity) into a try_me_else/retry_me_else/trust_me chain — or, for
// a single clause, no choice instruction at all — and registers the
// predicate's entry point in the call table (spec.md §4.3 "Predicate
// compilation").
func (c *Compiler) CompilePredicate(name string, arity uint8, clauses []Clause) error {
	pred := PredIndicator{Name: name, Arity: arity}
	if len(clauses) == 0 {
		return newCompileError(pred.String(), errors.New("predicate has no clauses"))
	}

	entry := len(c.code)
	c.callTable[pred] = entry

	useIndex := shouldIndex(clauses)
	var switchAddr int
	if useIndex {
		switchAddr = c.emit(Instr{Op: OpSwitchOnTerm})
	}

	type compiledBody struct {
		code    []Instr
		pending []pendingCall
	}
	bodies := make([]compiledBody, len(clauses))
	for i, cl := range clauses {
		prepared := anonymizeClause(cl)
		alloc := AllocateClause(prepared.Head, prepared.Body)
		ins, pending, err := c.compileClauseBody(alloc, prepared.Head, prepared.Body)
		if err != nil {
			return newCompileError(fmt.Sprintf("%s clause %d", pred, i+1), err)
		}
		bodies[i] = compiledBody{code: ins, pending: pending}
	}

	clauseAddrs := make([]int, len(clauses))
	for i, body := range bodies {
		clauseAddrs[i] = len(c.code)
		switch {
		case len(clauses) == 1:
			// no choice instruction
		case i == 0:
			c.emit(Instr{Op: OpTryMeElse})
		case i == len(clauses)-1:
			c.emit(Instr{Op: OpTrustMe})
		default:
			c.emit(Instr{Op: OpRetryMeElse})
		}
		base := len(c.code)
		for _, ins := range body.code {
			c.emit(ins)
		}
		for _, p := range body.pending {
			addr := base + p.localAddr
			ins := c.code[addr]
			ins.Target = c.refer(p.pred, addr)
			c.code[addr] = ins
		}
	}
	// Back-patch the try_me_else/retry_me_else labels now that every
	// clause's start address is known.
	for i := 0; i < len(clauses)-1; i++ {
		labelAddr := clauseAddrs[i]
		next := clauseAddrs[i+1]
		ins := c.code[labelAddr]
		ins.Label = uint32(next)
		c.code[labelAddr] = ins
	}

	if useIndex {
		c.code[switchAddr] = Instr{Op: OpSwitchOnTerm, Labels: c.buildIndexLabels(clauses, clauseAddrs)}
	}

	return nil
}

// shouldIndex reports whether first-argument indexing is worth emitting
// (spec.md §4.3: "if at least one clause's first head argument is
// non-variable").
func shouldIndex(clauses []Clause) bool {
	if len(clauses) < 2 {
		return false
	}
	for _, cl := range clauses {
		if len(cl.Head.Args) == 0 {
			return false
		}
		if _, isVar := cl.Head.Args[0].(Var); !isVar {
			return true
		}
	}
	return false
}

// noIndexTarget marks a switch label/default with no possible matching
// clause: the dispatched argument's kind (or specific const/functor key)
// rules out every clause, so the engine should fail immediately rather
// than jump anywhere.
const noIndexTarget = ^uint32(0)

// argKind classifies a clause head's first argument for first-argument
// indexing (spec.md §4.3's switch_on_term dispatch: var/const/list/struct).
type argKind int

const (
	kindVar argKind = iota
	kindConst
	kindList
	kindStruct
)

// classifyArg reports a's indexing kind, and for const/struct its
// interned (name,arity) key — the same key get_const/get_struc use, so
// a switch_on_const/switch_on_struc entry's Key matches the runtime
// cell it dispatches on.
func (c *Compiler) classifyArg(a Term) (argKind, uint32) {
	f, ok := a.(Functor)
	if !ok {
		return kindVar, 0
	}
	switch {
	case f.IsCons():
		return kindList, 0
	case len(f.Args) == 0:
		return kindConst, c.Interner.InternFunctor(f.Name, 0)
	default:
		return kindStruct, c.Interner.InternFunctor(f.Name, f.Arity())
	}
}

// buildIndexLabels builds switch_on_term's four dispatch targets (spec.md
// §4.3: "Only clauses matching the dispatched type are placed in the
// chain under each label; single-matching-clause cases jump directly").
// A clause with a variable first argument can unify with any dispatched
// value, so it is merged into every kind's candidate set, preserving
// each clause's original relative order within every chain it appears in.
func (c *Compiler) buildIndexLabels(clauses []Clause, clauseAddrs []int) [4]uint32 {
	var varIdx, listIdx []int
	constGroups := map[uint32][]int{}
	var constOrder []uint32
	structGroups := map[uint32][]int{}
	var structOrder []uint32

	for i, cl := range clauses {
		kind, key := c.classifyArg(cl.Head.Args[0])
		switch kind {
		case kindVar:
			varIdx = append(varIdx, i)
		case kindConst:
			if _, ok := constGroups[key]; !ok {
				constOrder = append(constOrder, key)
			}
			constGroups[key] = append(constGroups[key], i)
		case kindList:
			listIdx = append(listIdx, i)
		case kindStruct:
			if _, ok := structGroups[key]; !ok {
				structOrder = append(structOrder, key)
			}
			structGroups[key] = append(structGroups[key], i)
		}
	}

	// Each clause of an indexed predicate starts with its one
	// try_me_else/retry_me_else/trust_me; the indexed paths enter it just
	// past that instruction, at its body.
	bodyAddrs := make([]int, len(clauseAddrs))
	for i, a := range clauseAddrs {
		bodyAddrs[i] = a + 1
	}

	vLabel := uint32(clauseAddrs[0])
	lLabel := c.emitSubChain(mergeSorted(varIdx, listIdx), bodyAddrs)

	varOnly := noIndexTarget
	if len(varIdx) > 0 {
		varOnly = c.emitSubChain(varIdx, bodyAddrs)
	}

	cLabel := varOnly
	if len(constOrder) > 0 {
		table := make([]SwitchEntry, len(constOrder))
		for i, key := range constOrder {
			table[i] = SwitchEntry{
				Key:   key,
				Label: c.emitSubChain(mergeSorted(varIdx, constGroups[key]), bodyAddrs),
			}
		}
		cLabel = uint32(c.emit(Instr{Op: OpSwitchOnConst, Table: table, DefaultLabel: varOnly}))
	}

	sLabel := varOnly
	if len(structOrder) > 0 {
		table := make([]SwitchEntry, len(structOrder))
		for i, key := range structOrder {
			table[i] = SwitchEntry{
				Key:   key,
				Label: c.emitSubChain(mergeSorted(varIdx, structGroups[key]), bodyAddrs),
			}
		}
		sLabel = uint32(c.emit(Instr{Op: OpSwitchOnStruc, Table: table, DefaultLabel: varOnly}))
	}

	return [4]uint32{vLabel, cLabel, lLabel, sLabel}
}

// emitSubChain lays down a try/retry/trust mini-chain over idxs (clause
// indices in original order), each instruction jumping straight to its
// clause's already-compiled body via Label rather than falling through
// to an inline body the way try_me_else/retry_me_else/trust_me do (spec.md
// §4.3: "try L/retry L/trust L: indexed variants that jump to label L").
// A single candidate needs no choice point at all — it jumps directly.
func (c *Compiler) emitSubChain(idxs []int, clauseAddrs []int) uint32 {
	switch len(idxs) {
	case 0:
		return noIndexTarget
	case 1:
		return uint32(clauseAddrs[idxs[0]])
	}
	start := len(c.code)
	for j, ci := range idxs {
		switch {
		case j == 0:
			c.emit(Instr{Op: OpTry, Label: uint32(clauseAddrs[ci])})
		case j == len(idxs)-1:
			c.emit(Instr{Op: OpTrust, Label: uint32(clauseAddrs[ci])})
		default:
			c.emit(Instr{Op: OpRetry, Label: uint32(clauseAddrs[ci])})
		}
	}
	return uint32(start)
}

// mergeSorted merges two ascending slices of distinct clause indices,
// preserving original clause order in the combined candidate chain.
func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// compileClauseBody compiles one clause's head and body into a flat
// instruction sequence, not yet placed into the compiler's code buffer
// (the caller positions it after any choice-chain instruction).
func (c *Compiler) compileClauseBody(alloc ClauseAlloc, head Functor, body []Functor) ([]Instr, []pendingCall, error) {
	ctx := &compileCtx{
		c:        c,
		alloc:    alloc,
		homeX:    map[string]uint8{},
		nextTemp: uint8(len(head.Args) + 1),
		bound:    map[string]bool{},
		live:     map[string]bool{},
	}
	for name := range alloc.Permanent {
		ctx.live[name] = true
	}

	needsCutSlot := clauseNeedsCutBarrier(body)
	if needsCutSlot {
		ctx.cutBarrierSlot()
	}

	isChain := ctx.alloc.NumPermanent() == 0 && isChainRule(head, body)
	if ctx.alloc.NumPermanent() > 0 && !isChain {
		ctx.emit(Instr{Op: OpAllocateN, N: uint8(ctx.alloc.NumPermanent())})
		ctx.allocated = true
	}
	if needsCutSlot {
		ctx.emit(Instr{Op: OpGetLevel, LevelReg: uint8(alloc.PermSlot["$cut"])})
	}

	ctx.compileHeadArgs(head)

	for gi, g := range body {
		last := gi == len(body)-1
		if IsCutGoal(g) {
			ctx.compileCut(gi)
			continue
		}
		ctx.compileGoalArgs(g, gi+1)
		predG := PredIndicator{Name: g.Name, Arity: g.Arity()}
		if last {
			if ctx.allocated {
				ctx.emit(Instr{Op: OpDeallocate})
			}
			addr := ctx.emit(Instr{Op: OpExecute, Arity: predG.Arity})
			ctx.pending = append(ctx.pending, pendingCall{localAddr: addr, pred: predG})
			continue
		}
		k := ctx.permRemainingAfter(gi + 1)
		addr := ctx.emit(Instr{Op: OpCall, Arity: predG.Arity, K: uint8(k)})
		ctx.pending = append(ctx.pending, pendingCall{localAddr: addr, pred: predG})
	}

	if len(body) == 0 || IsCutGoal(body[len(body)-1]) {
		if ctx.allocated {
			ctx.emit(Instr{Op: OpDeallocate})
		}
		ctx.emit(Instr{Op: OpProceed})
	}

	finalCode, remap := peepholeMergeVoids(ctx.code)
	for i, p := range ctx.pending {
		ctx.pending[i].localAddr = remap[p.localAddr]
	}
	return finalCode, ctx.pending, nil
}

// PreparedQuery is the result of compiling one top-level query: the
// entry address its suspend-terminated instruction sequence starts at,
// and where each of its variables ended up so a solution can be read
// back out of the environment once the machine suspends (spec.md §6's
// "run(query) -> iterator of solutions").
type PreparedQuery struct {
	Entry    int
	VarSlot  map[string]int // query variable name -> permanent (Y) slot
	NumSlots int
}

// CompileQuery compiles a query's goal sequence into allocate_n;
// [put_*; call pred,k]*; suspend. Unlike a clause body, a query has no
// head to match and its goals are never tail-called (execute) or
// deallocated early, since the caller needs every query variable's
// slot to remain live in the suspended frame for solution decoding and
// for resuming the search on backtracking.
//
// To force every query variable permanent under the existing
// AllocateClause analysis (which only marks a variable permanent when
// it occurs in more than one of {goal 0, goal 1..m}), the query is
// wrapped in a synthetic headless clause whose "head" (goal 0) lists
// every variable the query mentions — a variable bound in any real
// goal therefore always shows up in at least two goals and is marked
// permanent, exactly the property a suspended query frame needs.
func (c *Compiler) CompileQuery(q Query) (*PreparedQuery, error) {
	prepared := anonymizeQuery(q)
	vars := queryVarOrder(prepared.Goals)
	syntheticHead := Functor{Name: "$query", Args: varsToArgs(vars)}
	alloc := AllocateClause(syntheticHead, prepared.Goals)

	entry := len(c.code)
	code, pending := c.compileQueryBody(alloc, prepared.Goals)
	for _, ins := range code {
		c.emit(ins)
	}
	for _, p := range pending {
		addr := entry + p.localAddr
		ins := c.code[addr]
		ins.Target = c.refer(p.pred, addr)
		c.code[addr] = ins
	}

	slots := make(map[string]int, len(vars))
	for _, v := range vars {
		if strings.HasPrefix(v, "_Q") {
			continue // synthetic stand-in for a bare "_" in the source query
		}
		slots[v] = alloc.PermSlot[v]
	}
	return &PreparedQuery{Entry: entry, VarSlot: slots, NumSlots: alloc.NumPermanent()}, nil
}

// compileQueryBody is compileClauseBody's query counterpart: no head
// matching, every goal compiled with call (never execute), and a
// trailing suspend instead of proceed/deallocate.
func (c *Compiler) compileQueryBody(alloc ClauseAlloc, goals []Functor) ([]Instr, []pendingCall) {
	ctx := &compileCtx{
		c:        c,
		alloc:    alloc,
		homeX:    map[string]uint8{},
		nextTemp: 1 + maxArity(goals),
		bound:    map[string]bool{},
		live:     map[string]bool{},
	}
	for name := range alloc.Permanent {
		ctx.live[name] = true
	}
	if alloc.NumPermanent() > 0 {
		ctx.emit(Instr{Op: OpAllocateN, N: uint8(alloc.NumPermanent())})
		ctx.allocated = true
	}
	for gi, g := range goals {
		ctx.compileGoalArgs(g, gi+1)
		predG := PredIndicator{Name: g.Name, Arity: g.Arity()}
		k := ctx.permRemainingAfter(gi + 1)
		addr := ctx.emit(Instr{Op: OpCall, Arity: predG.Arity, K: uint8(k)})
		ctx.pending = append(ctx.pending, pendingCall{localAddr: addr, pred: predG})
	}
	ctx.emit(Instr{Op: OpSuspend})

	finalCode, remap := peepholeMergeVoids(ctx.code)
	for i, p := range ctx.pending {
		ctx.pending[i].localAddr = remap[p.localAddr]
	}
	return finalCode, ctx.pending
}

// maxArity reports the largest argument count among goals, so the
// query's temp-register numbering starts above every goal's own direct
// argument registers (the same reservation a clause head gives its own
// argument registers 1..len(head.Args)).
func maxArity(goals []Functor) uint8 {
	var max uint8
	for _, g := range goals {
		if a := g.Arity(); a > max {
			max = a
		}
	}
	return max
}

// queryVarOrder lists every distinct variable name occurring anywhere
// in goals, in first-occurrence order.
func queryVarOrder(goals []Functor) []string {
	seen := map[string]bool{}
	var order []string
	var walk func(t Term)
	walk = func(t Term) {
		switch x := t.(type) {
		case Var:
			if !seen[x.Name] {
				seen[x.Name] = true
				order = append(order, x.Name)
			}
		case Functor:
			for _, a := range x.Args {
				walk(a)
			}
		}
	}
	for _, g := range goals {
		for _, a := range g.Args {
			walk(a)
		}
	}
	return order
}

// varsToArgs turns a list of variable names into Var terms, for
// building the synthetic query head.
func varsToArgs(names []string) []Term {
	args := make([]Term, len(names))
	for i, n := range names {
		args[i] = Var{Name: n}
	}
	return args
}

// anonymizeQuery is anonymizeClause's query counterpart: every bare "_"
// becomes a fresh, distinct variable.
func anonymizeQuery(q Query) Query {
	n := 0
	fresh := func() string { n++; return fmt.Sprintf("_Q%d", n) }
	return Query{Goals: anonymizeBody(q.Goals, fresh)}
}

// isChainRule reports whether a clause is a "fact chain" candidate: no
// body at all (a fact), which never needs an environment frame.
func isChainRule(head Functor, body []Functor) bool { return len(body) == 0 }

// clauseNeedsCutBarrier reports whether body contains a "!" anywhere
// but the first goal; a leading cut compiles to the cheaper neck_cut
// and needs no saved barrier.
func clauseNeedsCutBarrier(body []Functor) bool {
	for i, g := range body {
		if i > 0 && IsCutGoal(g) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------
// Anonymization: every bare "_" is a fresh, distinct variable per
// Prolog's usual "don't care" convention, never the same variable
// across occurrences. The parser/reader has no notion of this, so
// compile.go rewrites each occurrence to a unique synthetic name before
// handing the clause to the allocator.
// ---------------------------------------------------------------------

func anonymizeClause(c Clause) Clause {
	n := 0
	fresh := func() string { n++; return fmt.Sprintf("_G%d", n) }
	return Clause{
		Head: anonymizeFunctor(c.Head, fresh),
		Body: anonymizeBody(c.Body, fresh),
	}
}

func anonymizeBody(body []Functor, fresh func() string) []Functor {
	out := make([]Functor, len(body))
	for i, g := range body {
		out[i] = anonymizeFunctor(g, fresh)
	}
	return out
}

func anonymizeFunctor(f Functor, fresh func() string) Functor {
	if len(f.Args) == 0 {
		return f
	}
	args := make([]Term, len(f.Args))
	for i, a := range f.Args {
		args[i] = anonymizeTerm(a, fresh)
	}
	return Functor{Name: f.Name, Args: args}
}

func anonymizeTerm(t Term, fresh func() string) Term {
	switch x := t.(type) {
	case Var:
		if x.Name == "_" {
			return Var{Name: fresh()}
		}
		return x
	case Functor:
		return anonymizeFunctor(x, fresh)
	default:
		return t
	}
}
