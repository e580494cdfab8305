// Package program holds the demonstrations, each a standalone firmware
// image: initialise the board, then loop forever.
package program

import (
	"context"
	"fmt"
	"sort"
)

// Program is one demonstration.
type Program struct {
	Name        string
	Description string
	Run         func(ctx context.Context, b *Board) error
}

var registry = map[string]Program{}

func register(p Program) {
	if _, dup := registry[p.Name]; dup {
		panic("program: duplicate " + p.Name)
	}
	registry[p.Name] = p
}

// Lookup returns the program with the given name.
func Lookup(name string) (Program, error) {
	p, ok := registry[name]
	if !ok {
		return Program{}, fmt.Errorf("unknown program %q (have %v)", name, Names())
	}
	return p, nil
}

// Names returns all program names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every program, sorted by name.
func All() []Program {
	var out []Program
	for _, n := range Names() {
		out = append(out, registry[n])
	}
	return out
}
