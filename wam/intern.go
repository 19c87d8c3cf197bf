package wam

import "fmt"

// Interner is the boundary collaborator described in spec.md §4.1: it
// maps functor names (paired with arity) and variable names to small
// integer ids, and inverts that mapping. Deterministic and injective
// within one Interner's lifetime, the same contract gvm's bytecode.go
// gives its strToInstrMap/instrToStrMap pair (built once, inverted via
// init, looked up by both value and name for the rest of the package's
// life).
type Interner struct {
	functorIDs   map[functorKey]uint32
	functorInfos []functorKey

	varIDs   map[string]uint32
	varNames []string
}

type functorKey struct {
	Name  string
	Arity uint8
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{
		functorIDs: make(map[functorKey]uint32),
		varIDs:     make(map[string]uint32),
	}
}

// InternFunctor returns the id for name/arity, assigning a fresh one on
// first use. Ids fit in 24 bits as spec.md requires, since no program
// this machine will ever host can reasonably exceed 2^24 distinct names.
func (in *Interner) InternFunctor(name string, arity uint8) uint32 {
	key := functorKey{Name: name, Arity: arity}
	if id, ok := in.functorIDs[key]; ok {
		return id
	}
	id := uint32(len(in.functorInfos))
	in.functorIDs[key] = id
	in.functorInfos = append(in.functorInfos, key)
	return id
}

// DeinternFunctor inverts InternFunctor.
func (in *Interner) DeinternFunctor(id uint32) (name string, arity uint8, ok bool) {
	if int(id) >= len(in.functorInfos) {
		return "", 0, false
	}
	key := in.functorInfos[id]
	return key.Name, key.Arity, true
}

// FunctorName is a convenience used by the disassembler and decoder
// where only the display name is wanted.
func (in *Interner) FunctorName(id uint32) string {
	name, arity, ok := in.DeinternFunctor(id)
	if !ok {
		return fmt.Sprintf("?functor_%d?", id)
	}
	if arity == 0 {
		return name
	}
	return fmt.Sprintf("%s/%d", name, arity)
}

// InternVar returns the id for a variable's source name, assigning a
// fresh one on first use. Variable interning is per-clause/per-query in
// practice (callers construct a fresh Interner-scoped name space per
// parse unit if they want shadowing across clauses); the machine itself
// only ever sees ids, never names.
func (in *Interner) InternVar(name string) uint32 {
	if id, ok := in.varIDs[name]; ok {
		return id
	}
	id := uint32(len(in.varNames))
	in.varIDs[name] = id
	in.varNames = append(in.varNames, name)
	return id
}

// DeinternVar inverts InternVar.
func (in *Interner) DeinternVar(id uint32) (string, bool) {
	if int(id) >= len(in.varNames) {
		return "", false
	}
	return in.varNames[id], true
}
