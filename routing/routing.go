// Package routing maps command type names to destinations and domain event type names to the
// endpoints subscribed to them. Tables are built in code or loaded from YAML.
package routing

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

// CommandRoute sends every listed command type to one endpoint.
type CommandRoute struct {
	Endpoint string   `yaml:"endpoint"`
	Host     string   `yaml:"host"`
	Types    []string `yaml:"types"`
}

// EventRoute subscribes a queue to a comma-separated list of domain event types.
type EventRoute struct {
	Queue   string `yaml:"queue"`
	Machine string `yaml:"machine"`
	Events  string `yaml:"events"`
}

// File is the YAML document shape.
type File struct {
	Commands []CommandRoute `yaml:"commands"`
	Events   []EventRoute   `yaml:"events"`
}

// Table is a concurrency-safe cbus.Router.
type Table struct {
	mu       sync.RWMutex
	commands map[string]cbus.Destination
	events   map[string][]cbus.Destination
}

var _ cbus.Router = (*Table)(nil)

// New returns an empty Table.
func New() *Table {
	return &Table{
		commands: make(map[string]cbus.Destination),
		events:   make(map[string][]cbus.Destination),
	}
}

// Add routes the command types to dest. A later Add for the same type replaces the earlier one.
func (t *Table) Add(dest cbus.Destination, commandTypes ...string) error {
	if strings.TrimSpace(dest.Endpoint) == "" {
		return fmt.Errorf("route %v: empty endpoint: %w", commandTypes, berr.ErrInvalidRoute)
	}

	types := split(commandTypes)
	if len(types) == 0 {
		return fmt.Errorf("route to %s: no command types: %w", dest, berr.ErrInvalidRoute)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ct := range types {
		t.commands[ct] = dest
	}

	return nil
}

// AddEvents subscribes dest to the event types. Each destination is listed once per type.
func (t *Table) AddEvents(dest cbus.Destination, eventTypes ...string) error {
	if strings.TrimSpace(dest.Endpoint) == "" {
		return fmt.Errorf("event route %v: empty queue: %w", eventTypes, berr.ErrInvalidRoute)
	}

	types := split(eventTypes)
	if len(types) == 0 {
		return fmt.Errorf("event route to %s: no event types: %w", dest, berr.ErrInvalidRoute)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, et := range types {
		if !slices.Contains(t.events[et], dest) {
			t.events[et] = append(t.events[et], dest)
		}
	}

	return nil
}

// Lookup returns the destination configured for commandType.
func (t *Table) Lookup(commandType string) (cbus.Destination, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.commands[commandType]

	return d, ok
}

// EventDestinations returns the endpoints subscribed to eventType, in the order they were added.
func (t *Table) EventDestinations(eventType string) []cbus.Destination {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.events[eventType])
}

// Load adds every route of a YAML document read from r. Nothing is added when any entry is
// invalid.
func (t *Table) Load(r io.Reader) error {
	var f File

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse routes: %w", errors.Join(berr.ErrInvalidRoute, err))
	}

	return t.apply(f)
}

// LoadFile is Load on the file at path.
func (t *Table) LoadFile(path string) error {
	fh, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("open routes %s: %w", path, err)
	}
	defer fh.Close()

	if err := t.Load(fh); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	return nil
}

func (t *Table) apply(f File) error {
	staged := New()

	for i, c := range f.Commands {
		if err := staged.Add(cbus.Destination{Endpoint: c.Endpoint, Host: c.Host}, c.Types...); err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
	}

	for i, e := range f.Events {
		if err := staged.AddEvents(cbus.Destination{Endpoint: e.Queue, Host: e.Machine}, e.Events); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for ct, d := range staged.commands {
		t.commands[ct] = d
	}

	for et, ds := range staged.events {
		for _, d := range ds {
			if !slices.Contains(t.events[et], d) {
				t.events[et] = append(t.events[et], d)
			}
		}
	}

	return nil
}

// split flattens comma-separated lists and drops blanks.
func split(in []string) []string {
	var out []string

	for _, s := range in {
		for part := range strings.SplitSeq(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}

	return out
}
