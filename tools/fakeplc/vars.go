package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// variableDef is one entry of the YAML variable table.
type variableDef struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

type varsFile struct {
	Variables []variableDef `yaml:"variables"`
}

type variable struct {
	name  string
	typ   string
	value string
}

// varTable holds the served variables. Iteration order for LIST follows
// the definition order.
type varTable struct {
	mu    sync.RWMutex
	order []string
	vars  map[string]*variable
}

func newVarTable(defs []variableDef) (*varTable, error) {
	table := &varTable{vars: make(map[string]*variable)}
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, fmt.Errorf("variable with empty name")
		}
		if _, exists := table.vars[name]; exists {
			return nil, fmt.Errorf("duplicate variable %q", name)
		}
		typ := strings.ToUpper(strings.TrimSpace(def.Type))
		if typ == "" {
			typ = "STRING"
		}
		table.vars[name] = &variable{name: name, typ: typ, value: def.Value}
		table.order = append(table.order, name)
	}
	return table, nil
}

func loadVarsFile(path string) (*varTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file varsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return newVarTable(file.Variables)
}

// defaultVarTable serves a small demo table when no -vars file is given.
func defaultVarTable() *varTable {
	table, _ := newVarTable([]variableDef{
		{Name: "SYSTEM.UPTIME", Type: "INT", Value: "0"},
		{Name: "TEMP", Type: "REAL", Value: "21.5"},
		{Name: "LIGHT", Type: "BOOL", Value: "0"},
	})
	return table
}

func (table *varTable) count() int {
	table.mu.RLock()
	defer table.mu.RUnlock()
	return len(table.vars)
}

func (table *varTable) get(name string) (string, bool) {
	table.mu.RLock()
	defer table.mu.RUnlock()
	entry, exists := table.vars[name]
	if !exists {
		return "", false
	}
	return entry.value, true
}

// set stores a new value and reports whether the variable exists and
// whether the stored value actually changed.
func (table *varTable) set(name, value string) (exists, changed bool) {
	table.mu.Lock()
	defer table.mu.Unlock()
	entry, exists := table.vars[name]
	if !exists {
		return false, false
	}
	if entry.value == value {
		return true, false
	}
	entry.value = value
	return true, true
}

// list returns "name,TYPE" catalog entries in definition order.
func (table *varTable) list() []string {
	table.mu.RLock()
	defer table.mu.RUnlock()

	entries := make([]string, 0, len(table.order))
	for _, name := range table.order {
		entry := table.vars[name]
		entries = append(entries, entry.name+","+entry.typ)
	}
	return entries
}

// numericValue parses a value for delta-threshold comparison. Bools map
// to 0 and 1 the way the PLC reports them.
func numericValue(value string) (float64, bool) {
	trimmed := strings.TrimSpace(value)
	switch strings.ToLower(trimmed) {
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	number, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return number, true
}
