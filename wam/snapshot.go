package wam

import (
	"encoding/gob"
	"io"

	"github.com/pkg/errors"
)

// Snapshot is the gob-serializable image of one compiled-and-linked
// load unit: its code buffer, call table, and the interner tables
// needed to make sense of both again (spec.md §6's optional
// persistence note: "call table, code buffer, interner tables"). Not
// a Machine snapshot — heap/trail/choice-point state is deliberately
// excluded, since resuming a suspended search across a process
// restart is out of scope (see DESIGN.md).
type Snapshot struct {
	Code      []Instr
	CallTable map[PredIndicator]int
	Functors  []functorKey
	Vars      []string
}

// NewSnapshot captures c's current code, call table, and interner.
func NewSnapshot(c *Compiler) *Snapshot {
	return &Snapshot{
		Code:      append([]Instr(nil), c.code...),
		CallTable: c.CallTable(),
		Functors:  append([]functorKey(nil), c.Interner.functorInfos...),
		Vars:      append([]string(nil), c.Interner.varNames...),
	}
}

// Save gob-encodes the snapshot to w.
func (s *Snapshot) Save(w io.Writer) error {
	return errors.Wrap(gob.NewEncoder(w).Encode(s), "encode snapshot")
}

// LoadSnapshot gob-decodes a snapshot previously written by Save.
func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &s, nil
}

// Restore rebuilds an Interner and a ready-to-run (code, call table)
// pair from the snapshot, suitable for NewMachine.
func (s *Snapshot) Restore() (*Interner, []Instr, map[PredIndicator]int) {
	in := &Interner{
		functorIDs:   make(map[functorKey]uint32, len(s.Functors)),
		functorInfos: append([]functorKey(nil), s.Functors...),
		varIDs:       make(map[string]uint32, len(s.Vars)),
		varNames:     append([]string(nil), s.Vars...),
	}
	for i, k := range in.functorInfos {
		in.functorIDs[k] = uint32(i)
	}
	for i, n := range in.varNames {
		in.varIDs[n] = uint32(i)
	}

	calls := make(map[PredIndicator]int, len(s.CallTable))
	for k, v := range s.CallTable {
		calls[k] = v
	}
	return in, append([]Instr(nil), s.Code...), calls
}
