// Command wam compiles and runs programs for the WAM-based logic
// engine in package wam: a "compile" subcommand that links a source
// file into bytecode (optionally writing a gob snapshot), and a "run"
// subcommand that compiles a program from source, poses a query
// against it, and prints successive solutions.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/cli"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"wam/wam"
)

func main() {
	c := cli.NewCLI("wam", "0.1.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"compile": func() (cli.Command, error) { return &compileCommand{}, nil },
		"run":     func() (cli.Command, error) { return &runCommand{}, nil },
	}

	status, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(status)
}

// loadProgram reads path and compiles+links every clause it contains,
// grouped by predicate indicator (spec.md §4.6's "register in call
// table" step requires a predicate's clauses to be compiled together).
func loadProgram(path string) (*wam.Compiler, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	clauses, err := wam.ParseProgram(string(src))
	if err != nil {
		return nil, errors.Wrap(err, "parse program")
	}

	byPred := map[wam.PredIndicator][]wam.Clause{}
	var order []wam.PredIndicator
	for _, cl := range clauses {
		pred := wam.PredIndicator{Name: cl.Head.Name, Arity: cl.Head.Arity()}
		if _, ok := byPred[pred]; !ok {
			order = append(order, pred)
		}
		byPred[pred] = append(byPred[pred], cl)
	}

	in := wam.NewInterner()
	comp := wam.NewCompiler(in)
	for _, pred := range order {
		expanded := make([]wam.Clause, 0, len(byPred[pred]))
		for _, cl := range byPred[pred] {
			expanded = append(expanded, wam.PrecompileClause(cl)...)
		}
		if err := comp.CompilePredicate(pred.Name, pred.Arity, expanded); err != nil {
			return nil, err
		}
	}
	if err := comp.Link(); err != nil {
		return nil, err
	}
	return comp, nil
}

type compileCommand struct{}

func (c *compileCommand) Help() string {
	return "Usage: wam compile <file.pl> [-o snapshot.gob]\n\n" +
		"  Compiles and links every clause in file.pl, printing the\n" +
		"  disassembled bytecode. With -o, also writes a gob snapshot of\n" +
		"  the linked program, readable with wam.LoadSnapshot (`wam run`\n" +
		"  always compiles from source)."
}

func (c *compileCommand) Synopsis() string { return "Compile a program to WAM bytecode" }

func (c *compileCommand) Run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, c.Help())
		return 1
	}
	path := args[0]
	var outPath string
	for i := 1; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			outPath = args[i+1]
			i++
		}
	}

	comp, err := loadProgram(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Print(wam.Disassemble(comp.Code(), comp.Interner))

	if outPath == "" {
		return 0
	}
	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer f.Close()
	if err := wam.NewSnapshot(comp).Save(f); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type runCommand struct{}

func (c *runCommand) Help() string {
	return "Usage: wam run <file.pl> <query> [-n max] [-debug]\n\n" +
		"  Compiles file.pl, poses <query> against it, and prints up to\n" +
		"  -n solutions (default 1; 0 means all). -debug enables trace\n" +
		"  logging of instruction dispatch and backtracking."
}

func (c *runCommand) Synopsis() string { return "Run a query against a program" }

func (c *runCommand) Run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, c.Help())
		return 1
	}
	path, queryText := args[0], args[1]

	max := 1
	debug := false
	for i := 2; i < len(args); i++ {
		switch {
		case args[i] == "-n" && i+1 < len(args):
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				fmt.Fprintln(os.Stderr, errors.Wrap(err, "parse -n"))
				return 1
			}
			max = n
			i++
		case args[i] == "-debug":
			debug = true
		}
	}

	comp, err := loadProgram(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	query, err := wam.ParseQuery(queryText)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "parse query"))
		return 1
	}
	pq, err := comp.CompileQuery(query)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := comp.Link(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	m := wam.NewMachine(comp.Interner, comp.Code(), comp.CallTable())
	if debug {
		m.SetLogger(hclog.New(&hclog.LoggerOptions{Name: "wam", Level: hclog.Trace}))
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	it := m.Solutions(pq)
	found := 0
	for max <= 0 || found < max {
		sol, ok, err := it.Next()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if !ok {
			break
		}
		found++
		printSolution(out, sol)
	}
	if found == 0 {
		fmt.Fprintln(out, "false.")
	}
	return 0
}

func printSolution(out *bufio.Writer, sol wam.Solution) {
	if len(sol) == 0 {
		fmt.Fprintln(out, "true.")
		return
	}
	first := true
	for name, term := range sol {
		if !first {
			fmt.Fprint(out, ",\n")
		}
		first = false
		fmt.Fprintf(out, "%s = %v", name, term)
	}
	fmt.Fprintln(out, ".")
}
