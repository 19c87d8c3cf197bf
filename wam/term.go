package wam

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Term is the boundary AST the (out-of-scope) parser collaborator hands
// to the compiler: spec.md §2 defines it as Var(id) | Functor(name,
// args...). Both cases are plain structs, not an interface with methods
// a real production parser would also need to supply — the parser
// itself is an external collaborator, so only its output shape is
// specified here.
type Term interface {
	termNode()
}

// Var is a logic variable referenced by source name. Two Vars with the
// same Name within one Clause/Query denote the same variable.
type Var struct {
	Name string
}

func (Var) termNode() {}

// Functor is either a compound term (len(Args) > 0) or an atom
// (len(Args) == 0). A list cell is represented as Functor{Name: ".",
// Args: [Head, Tail]} and the empty list as Functor{Name: "[]"}, the
// conventional Prolog desugaring spec.md's GLOSSARY assumes for LIS.
type Functor struct {
	Name string
	Args []Term
}

func (Functor) termNode() {}

// Arity reports the functor's argument count.
func (f Functor) Arity() uint8 { return uint8(len(f.Args)) }

// Atom builds a 0-arity Functor.
func Atom(name string) Functor { return Functor{Name: name} }

// Cons builds a single list cell.
func Cons(head, tail Term) Functor { return Functor{Name: ".", Args: []Term{head, tail}} }

// Nil is the empty list atom.
var Nil = Atom("[]")

// IsNil reports whether f is the empty-list atom.
func (f Functor) IsNil() bool { return f.Name == "[]" && len(f.Args) == 0 }

// IsCons reports whether f is a "./2" list cell.
func (f Functor) IsCons() bool { return f.Name == "." && len(f.Args) == 2 }

// Clause is a program clause: Head :- Body (Body empty means a fact).
type Clause struct {
	Head Functor
	Body []Functor
}

// Query is a top-level goal sequence, compiled like a clause body but
// with no head. CompileQuery gives every variable it mentions a
// permanent environment slot, so its binding can be read back once the
// query suspends.
type Query struct {
	Goals []Functor
}

// ---------------------------------------------------------------------
// A minimal recursive-descent reader for this engine's own tests and the
// cmd/wam CLI. The production source-to-syntax-tree parser is explicitly
// out of scope (spec.md §1); this reader exists only so tests and the
// CLI can build Clause/Query values from literal Prolog-ish text without
// depending on that external collaborator.
// ---------------------------------------------------------------------

// ParseClause parses a single "head." or "head :- body." clause.
func ParseClause(src string) (Clause, error) {
	p := &reader{src: []rune(strings.TrimSpace(src))}
	head, err := p.functor()
	if err != nil {
		return Clause{}, errors.Wrap(err, "parse clause head")
	}
	p.skipSpace()
	body := []Functor{}
	if p.peekString(":-") {
		p.pos += 2
		for {
			p.skipSpace()
			g, err := p.functor()
			if err != nil {
				return Clause{}, errors.Wrap(err, "parse clause body")
			}
			body = append(body, g)
			p.skipSpace()
			if p.peekRune(',') {
				p.pos++
				continue
			}
			break
		}
	}
	p.skipSpace()
	if !p.peekRune('.') {
		return Clause{}, errors.Errorf("expected '.' at end of clause, near %q", p.rest())
	}
	return Clause{Head: head, Body: body}, nil
}

// ParseQuery parses a "?- g1, g2." query, with or without the leading
// "?-" marker.
func ParseQuery(src string) (Query, error) {
	src = strings.TrimSpace(src)
	src = strings.TrimPrefix(src, "?-")
	p := &reader{src: []rune(strings.TrimSpace(src))}
	goals := []Functor{}
	for {
		p.skipSpace()
		g, err := p.functor()
		if err != nil {
			return Query{}, errors.Wrap(err, "parse query")
		}
		goals = append(goals, g)
		p.skipSpace()
		if p.peekRune(',') {
			p.pos++
			continue
		}
		break
	}
	p.skipSpace()
	if p.peekRune('.') {
		p.pos++
	}
	return Query{Goals: goals}, nil
}

type reader struct {
	src []rune
	pos int
}

func (p *reader) rest() string {
	if p.pos >= len(p.src) {
		return ""
	}
	return string(p.src[p.pos:])
}

func (p *reader) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *reader) peekRune(r rune) bool {
	return p.pos < len(p.src) && p.src[p.pos] == r
}

func (p *reader) peekString(s string) bool {
	rs := []rune(s)
	if p.pos+len(rs) > len(p.src) {
		return false
	}
	for i, r := range rs {
		if p.src[p.pos+i] != r {
			return false
		}
	}
	return true
}

// term parses one term: a variable, a cut, a list, or a functor/atom.
func (p *reader) term() (Term, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, errors.New("unexpected end of input")
	}
	switch {
	case p.peekRune('!'):
		p.pos++
		return Atom("!"), nil
	case p.peekRune('['):
		return p.list()
	case unicode.IsUpper(p.src[p.pos]) || p.src[p.pos] == '_':
		name := p.identifier()
		return Var{Name: name}, nil
	default:
		f, err := p.functor()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// functor parses an atom or a compound term: name or name(arg,...).
func (p *reader) functor() (Functor, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return Functor{}, errors.New("expected functor, got end of input")
	}
	if p.peekRune('!') {
		p.pos++
		return Atom("!"), nil
	}
	if !unicode.IsLower(p.src[p.pos]) && p.src[p.pos] != '\'' {
		return Functor{}, errors.Errorf("expected lowercase functor name near %q", p.rest())
	}
	name := p.identifier()
	if !p.peekRune('(') {
		return Atom(name), nil
	}
	p.pos++ // consume '('
	args := []Term{}
	for {
		p.skipSpace()
		arg, err := p.term()
		if err != nil {
			return Functor{}, err
		}
		args = append(args, arg)
		p.skipSpace()
		if p.peekRune(',') {
			p.pos++
			continue
		}
		break
	}
	p.skipSpace()
	if !p.peekRune(')') {
		return Functor{}, errors.Errorf("expected ')' near %q", p.rest())
	}
	p.pos++
	return Functor{Name: name, Args: args}, nil
}

// list parses "[a,b,c|T]" / "[a,b,c]" / "[]" sugar into ./2 and []/0.
func (p *reader) list() (Term, error) {
	p.pos++ // consume '['
	p.skipSpace()
	if p.peekRune(']') {
		p.pos++
		return Nil, nil
	}
	elems := []Term{}
	var tail Term = Nil
	for {
		p.skipSpace()
		el, err := p.term()
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		p.skipSpace()
		if p.peekRune(',') {
			p.pos++
			continue
		}
		if p.peekRune('|') {
			p.pos++
			p.skipSpace()
			t, err := p.term()
			if err != nil {
				return nil, err
			}
			tail = t
			p.skipSpace()
		}
		break
	}
	if !p.peekRune(']') {
		return nil, errors.Errorf("expected ']' near %q", p.rest())
	}
	p.pos++
	result := tail
	for i := len(elems) - 1; i >= 0; i-- {
		result = Cons(elems[i], result)
	}
	return result, nil
}

func (p *reader) identifier() string {
	start := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '\'' {
		p.pos++
		s := p.pos
		for p.pos < len(p.src) && p.src[p.pos] != '\'' {
			p.pos++
		}
		name := string(p.src[s:p.pos])
		if p.pos < len(p.src) {
			p.pos++
		}
		return name
	}
	for p.pos < len(p.src) && (unicode.IsLetter(p.src[p.pos]) || unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '_') {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

func (f Functor) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ","))
}

func (v Var) String() string { return v.Name }
