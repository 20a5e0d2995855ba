// Package command is the single entry point for remote-control commands.
// Front-ends parse their wire format into a command name plus string
// arguments and submit them here; the dispatcher validates at the boundary
// and serializes all mutations into the queue and transport.
package command

import (
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"tremolo/internal/catalog"
	"tremolo/internal/notify"
	"tremolo/internal/queue"
)

// Result is the structured value a command produces. Wire encoding is a
// front-end concern.
type Result map[string]any

// Finalize receives the command outcome. Synchronous commands call it before
// Run returns; finalized and idle commands call it later, exactly once.
type Finalize func(Result, *Error)

// Kind describes one expected parameter.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindURI
)

type value struct {
	i int
	s string
}

type form struct {
	params []Kind
	run    func(d *Dispatcher, args []value, fin Finalize)
}

type descriptor struct {
	name  string
	forms []form
}

// Dispatcher validates and executes commands against the daemon core.
type Dispatcher struct {
	queue    *queue.Queue
	cat      catalog.Session
	bus      *notify.Bus
	logger   *log.Logger
	shutdown func()

	table map[string]*descriptor
}

// New builds a dispatcher. shutdown is invoked by the quit command and must
// be safe to call from any goroutine.
func New(q *queue.Queue, cat catalog.Session, bus *notify.Bus, logger *log.Logger, shutdown func()) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		cat:      cat,
		bus:      bus,
		logger:   logger,
		shutdown: shutdown,
	}
	d.table = buildTable()
	return d
}

// Names returns the sorted command names, for help output.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.table))
	for n := range d.table {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run parses, validates and executes one command. Validation failures reach
// fin as a typed error without touching core state.
func (d *Dispatcher) Run(name string, rawArgs []string, fin Finalize) {
	desc, ok := d.table[name]
	if !ok {
		fin(nil, errUnknown(name))
		return
	}

	var lastErr *Error
	for i := range desc.forms {
		f := &desc.forms[i]
		if len(f.params) != len(rawArgs) {
			continue
		}
		args, err := parseArgs(name, f.params, rawArgs)
		if err != nil {
			lastErr = err
			continue
		}
		d.logger.Debug("command", "name", name, "args", rawArgs)
		f.run(d, args, fin)
		return
	}

	if lastErr == nil {
		lastErr = errBadArgs(name, "wrong number of arguments")
	}
	fin(nil, lastErr)
}

func parseArgs(name string, kinds []Kind, raw []string) ([]value, *Error) {
	args := make([]value, len(raw))
	for i, k := range kinds {
		switch k {
		case KindInt:
			n, err := strconv.Atoi(raw[i])
			if err != nil {
				return nil, errBadArgs(name, "expected an integer, got "+strconv.Quote(raw[i]))
			}
			args[i] = value{i: n}
		case KindURI:
			if !strings.Contains(raw[i], ":") {
				return nil, errBadArgs(name, "expected a URI, got "+strconv.Quote(raw[i]))
			}
			args[i] = value{s: raw[i]}
		case KindString:
			if raw[i] == "" {
				return nil, errBadArgs(name, "expected a non-empty string")
			}
			args[i] = value{s: raw[i]}
		}
	}
	return args, nil
}
