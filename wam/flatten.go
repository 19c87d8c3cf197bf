package wam

// compileCtx holds the per-clause state the instruction compiler
// threads through head-matching and body-construction: temp-register
// assignment for non-permanent variables (spec.md §4.2 rules 1-3,
// assigned here rather than in alloc.go since it is inseparable from
// emission order), and which variables have already been bound at
// least once (so a repeat occurrence compiles to a *_val form instead
// of a fresh *_var).
type compileCtx struct {
	c     *Compiler
	alloc ClauseAlloc

	homeX    map[string]uint8 // temp (non-permanent) variable -> X register
	nextTemp uint8

	bound map[string]bool // variable already has a home value written
	live  map[string]bool // permanent variable still needed (not yet trimmed)

	allocated bool // this clause emitted `allocate_n`
	code      []Instr
	pending   []pendingCall
}

// pendingCall records a call/execute instruction's predicate reference
// by its LOCAL index into ctx.code; compile.go resolves these to real
// global code addresses once it knows where this clause body will be
// placed (after any choice-chain prefix) and after the peephole pass
// may have shifted instruction indices.
type pendingCall struct {
	localAddr int
	pred      PredIndicator
}

func (ctx *compileCtx) emit(ins Instr) int {
	addr := len(ctx.code)
	ctx.code = append(ctx.code, ins)
	return addr
}

func (ctx *compileCtx) allocTemp() uint8 {
	r := ctx.nextTemp
	ctx.nextTemp++
	return r
}

// home returns the (mode, register-or-slot) pair a variable lives in,
// assigning it a fresh temp register on first use if it is not
// permanent.
func (ctx *compileCtx) home(name string) (Mode, uint8) {
	if ctx.alloc.Permanent[name] {
		return StackMode, uint8(ctx.alloc.PermSlot[name])
	}
	if r, ok := ctx.homeX[name]; ok {
		return RegMode, r
	}
	r := ctx.allocTemp()
	ctx.homeX[name] = r
	return RegMode, r
}

func (ctx *compileCtx) constName(f Functor) uint32 {
	return ctx.c.Interner.InternFunctor(f.Name, 0)
}

// permRemainingAfter computes call's trim count k: the number of
// permanent variables still live (occur in some goal at goalIdx or
// later) once goal goalIdx has been compiled.
func (ctx *compileCtx) permRemainingAfter(goalIdx int) int {
	n := 0
	for name := range ctx.alloc.Permanent {
		if !ctx.alloc.Permanent[name] {
			continue
		}
		if ctx.alloc.LastGoal[name] >= goalIdx {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------
// Head matching (breadth-first, spec.md §4.3 "Program emission").
// ---------------------------------------------------------------------

type pendingMatch struct {
	reg uint8
	f   Functor
}

func (ctx *compileCtx) compileHeadArgs(head Functor) {
	for i, a := range head.Args {
		var queue []pendingMatch
		ctx.matchHeadEntry(a, uint8(i+1), &queue)
		for n := 0; len(queue) > 0; n++ {
			p := queue[0]
			queue = queue[1:]
			if n > 0 {
				// A nested compound: unify_var left it in p.reg.
				if p.f.IsCons() {
					ctx.emit(Instr{Op: OpGetList, Mode: RegMode, Reg: p.reg})
				} else {
					name := ctx.c.Interner.InternFunctor(p.f.Name, p.f.Arity())
					ctx.emit(Instr{Op: OpGetStruc, Mode: RegMode, Reg: p.reg, Name: name, Arity: p.f.Arity()})
				}
			}
			ctx.unifyStructArgs(p.f, &queue)
		}
	}
}

func (ctx *compileCtx) matchHeadEntry(t Term, reg uint8, queue *[]pendingMatch) {
	switch x := t.(type) {
	case Var:
		ctx.matchHeadVar(x.Name, reg)
	case Functor:
		switch {
		case len(x.Args) == 0:
			ctx.emit(Instr{Op: OpGetConst, Mode: RegMode, Reg: reg, Name: ctx.constName(x)})
		case x.IsCons():
			ctx.emit(Instr{Op: OpGetList, Mode: RegMode, Reg: reg})
			*queue = append(*queue, pendingMatch{reg, x})
		default:
			name := ctx.c.Interner.InternFunctor(x.Name, x.Arity())
			ctx.emit(Instr{Op: OpGetStruc, Mode: RegMode, Reg: reg, Name: name, Arity: x.Arity()})
			*queue = append(*queue, pendingMatch{reg, x})
		}
	}
}

func (ctx *compileCtx) matchHeadVar(name string, reg uint8) {
	mode, idx := ctx.home(name)
	if !ctx.bound[name] {
		ctx.bound[name] = true
		ctx.emit(Instr{Op: OpGetVar, Mode: mode, Reg: idx, Reg2: reg})
		return
	}
	ctx.emit(Instr{Op: OpGetVal, Mode: mode, Reg: idx, Reg2: reg})
}

// unifyStructArgs emits unify_* for one structure/list's components,
// queueing any nested compound for the next breadth-first level.
func (ctx *compileCtx) unifyStructArgs(f Functor, queue *[]pendingMatch) {
	var voidRun int
	flushVoid := func() {
		if voidRun > 0 {
			ctx.emit(Instr{Op: OpUnifyVoid, N: uint8(voidRun)})
			voidRun = 0
		}
	}
	for _, a := range f.Args {
		switch x := a.(type) {
		case Var:
			if ctx.alloc.Singleton[x.Name] {
				voidRun++
				continue
			}
			flushVoid()
			ctx.unifyVar(x.Name)
		case Functor:
			flushVoid()
			if len(x.Args) == 0 {
				ctx.emit(Instr{Op: OpUnifyConst, Name: ctx.constName(x)})
				continue
			}
			reg := ctx.allocTemp()
			ctx.emit(Instr{Op: OpUnifyVar, Mode: RegMode, Reg: reg})
			*queue = append(*queue, pendingMatch{reg, x})
		default:
			flushVoid()
		}
	}
	flushVoid()
}

func (ctx *compileCtx) unifyVar(name string) {
	mode, idx := ctx.home(name)
	if !ctx.bound[name] {
		ctx.bound[name] = true
		ctx.emit(Instr{Op: OpUnifyVar, Mode: mode, Reg: idx})
		return
	}
	if mode == StackMode {
		ctx.emit(Instr{Op: OpUnifyLocalVal, Mode: mode, Reg: idx})
		return
	}
	ctx.emit(Instr{Op: OpUnifyVal, Mode: mode, Reg: idx})
}

// ---------------------------------------------------------------------
// Body construction (post-order, spec.md §4.3 "Query emission").
// ---------------------------------------------------------------------

func (ctx *compileCtx) compileGoalArgs(g Functor, goalIdx int) {
	for i, a := range g.Args {
		ai := uint8(i + 1)
		switch x := a.(type) {
		case Var:
			ctx.putVarArg(x.Name, ai, goalIdx)
		case Functor:
			switch {
			case len(x.Args) == 0:
				ctx.emit(Instr{Op: OpPutConst, Mode: RegMode, Reg: ai, Name: ctx.constName(x)})
			case x.IsCons():
				ctx.emit(Instr{Op: OpPutList, Mode: RegMode, Reg: ai})
				ctx.buildStructArgs(x.Args, goalIdx)
			default:
				name := ctx.c.Interner.InternFunctor(x.Name, x.Arity())
				ctx.emit(Instr{Op: OpPutStruc, Mode: RegMode, Reg: ai, Name: name, Arity: x.Arity()})
				ctx.buildStructArgs(x.Args, goalIdx)
			}
		}
	}
}

func (ctx *compileCtx) putVarArg(name string, ai uint8, goalIdx int) {
	mode, idx := ctx.home(name)
	if !ctx.bound[name] {
		ctx.bound[name] = true
		ctx.emit(Instr{Op: OpPutVar, Mode: mode, Reg: idx, Reg2: ai})
		return
	}
	if mode == StackMode && ctx.alloc.Unsafe[name] && ctx.alloc.LastGoal[name] == goalIdx {
		ctx.emit(Instr{Op: OpPutUnsafeVal, Mode: mode, Reg: idx, Reg2: ai})
		return
	}
	ctx.emit(Instr{Op: OpPutVal, Mode: mode, Reg: idx, Reg2: ai})
}

func (ctx *compileCtx) buildStructArgs(args []Term, goalIdx int) {
	var voidRun int
	flushVoid := func() {
		if voidRun > 0 {
			ctx.emit(Instr{Op: OpSetVoid, N: uint8(voidRun)})
			voidRun = 0
		}
	}
	for _, a := range args {
		switch x := a.(type) {
		case Var:
			if ctx.alloc.Singleton[x.Name] {
				voidRun++
				continue
			}
			flushVoid()
			ctx.setVarArg(x.Name)
		case Functor:
			flushVoid()
			if len(x.Args) == 0 {
				ctx.emit(Instr{Op: OpSetConst, Name: ctx.constName(x)})
				continue
			}
			reg := ctx.buildNested(x, goalIdx)
			ctx.emit(Instr{Op: OpSetVal, Mode: RegMode, Reg: reg})
		default:
			flushVoid()
		}
	}
	flushVoid()
}

func (ctx *compileCtx) setVarArg(name string) {
	mode, idx := ctx.home(name)
	if !ctx.bound[name] {
		ctx.bound[name] = true
		ctx.emit(Instr{Op: OpSetVar, Mode: mode, Reg: idx})
		return
	}
	if mode == StackMode {
		ctx.emit(Instr{Op: OpSetLocalVal, Mode: mode, Reg: idx})
		return
	}
	ctx.emit(Instr{Op: OpSetVal, Mode: mode, Reg: idx})
}

// buildNested recursively constructs a compound subterm bottom-up
// (post-order) and returns the temp register now holding it, for the
// parent to reference with set_val.
func (ctx *compileCtx) buildNested(f Functor, goalIdx int) uint8 {
	reg := ctx.allocTemp()
	if f.IsCons() {
		ctx.emit(Instr{Op: OpPutList, Mode: RegMode, Reg: reg})
	} else {
		name := ctx.c.Interner.InternFunctor(f.Name, f.Arity())
		ctx.emit(Instr{Op: OpPutStruc, Mode: RegMode, Reg: reg, Name: name, Arity: f.Arity()})
	}
	ctx.buildStructArgs(f.Args, goalIdx)
	return reg
}

// ---------------------------------------------------------------------
// Cut.
// ---------------------------------------------------------------------

// compileCut emits the cut-barrier sequence for a "!" body goal. The
// first goal of a clause uses neck_cut (cuts back to the choice point
// in place when the clause was entered, cheaply, with no saved Y
// needed); a "!" occurring later needs a get_level/cut Yn pair so the
// barrier survives across the intervening goals. The barrier's Y-slot
// is counted in the clause's allocate_n, so such a clause always gets an
// environment to hold it, even with no ordinary permanent variable.
func (ctx *compileCtx) compileCut(goalIdx int) {
	if goalIdx == 0 {
		ctx.emit(Instr{Op: OpNeckCut})
		return
	}
	ctx.emit(Instr{Op: OpCut, LevelReg: ctx.cutBarrierSlot()})
}

// cutBarrierSlot returns the environment slot reserved for this
// clause's cut barrier, lazily recording the reservation the first time
// it is needed. Simplification: this implementation reserves a
// synthetic extra permanent slot one past the allocator's ordinary
// count rather than threading a get_level emission through alloc.go
// (see DESIGN.md); it is written once, at clause entry, before any
// ordinary permanent variable's first use.
func (ctx *compileCtx) cutBarrierSlot() uint8 {
	const cutSlotKey = "$cut"
	if slot, ok := ctx.alloc.PermSlot[cutSlotKey]; ok {
		return uint8(slot)
	}
	slot := ctx.alloc.NumPermanent() + 1
	ctx.alloc.PermSlot[cutSlotKey] = slot
	ctx.alloc.PermOrder = append(ctx.alloc.PermOrder, cutSlotKey)
	return uint8(slot)
}

// peepholeMergeVoids coalesces adjacent set_void/unify_void runs the
// naive per-argument codegen above may have left split by an
// intervening flush (spec.md
// §4.6 step 5's optional peephole optimizer; observable semantics are
// unchanged since consecutive voids of the same kind are independent
// no-op placeholders).
// peepholeMergeVoids returns the coalesced code plus a mapping from
// each original index to its new index, so callers holding local
// addresses into the pre-peephole stream (pendingCall.localAddr) can
// rewrite them.
func peepholeMergeVoids(code []Instr) ([]Instr, []int) {
	out := make([]Instr, 0, len(code))
	remap := make([]int, len(code))
	for i, ins := range code {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if (ins.Op == OpSetVoid && prev.Op == OpSetVoid) || (ins.Op == OpUnifyVoid && prev.Op == OpUnifyVoid) {
				prev.N += ins.N
				remap[i] = len(out) - 1
				continue
			}
		}
		remap[i] = len(out)
		out = append(out, ins)
	}
	return out, remap
}
