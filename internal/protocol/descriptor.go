// Package protocol holds the static description of a DevTools-style protocol:
// the domains it declares and, per domain, the command and event names.
//
// The layout follows the protocol.json files published by Chromium
// (browser_protocol.json, js_protocol.json). Parameter and return schemas are
// kept as opaque data; the runtime only needs names.
package protocol

import (
	"encoding/json"
	"fmt"
	"os"
)

// Descriptor is the parsed protocol description
type Descriptor struct {
	Version Version  `json:"version"`
	Domains []Domain `json:"domains"`
}

// Version is the protocol version pair as published by the browser
type Version struct {
	Major string `json:"major"`
	Minor string `json:"minor"`
}

// Domain is a named group of commands, events and types
type Domain struct {
	Name         string          `json:"domain"`
	Description  string          `json:"description,omitempty"`
	Experimental bool            `json:"experimental,omitempty"`
	Deprecated   bool            `json:"deprecated,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Types        json.RawMessage `json:"types,omitempty"`
	Commands     []Command       `json:"commands,omitempty"`
	Events       []Event         `json:"events,omitempty"`
}

// Command is a caller-initiated request declared by a domain
type Command struct {
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Experimental bool        `json:"experimental,omitempty"`
	Parameters   []Parameter `json:"parameters,omitempty"`
	Returns      []Parameter `json:"returns,omitempty"`
}

// Event is a server-initiated notification declared by a domain
type Event struct {
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Experimental bool        `json:"experimental,omitempty"`
	Parameters   []Parameter `json:"parameters,omitempty"`
}

// Parameter describes one named field of a command or event payload.
type Parameter struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type,omitempty"`
	Ref         string          `json:"$ref,omitempty"`
	Optional    bool            `json:"optional,omitempty"`
	Items       json.RawMessage `json:"items,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
}

// Parse decodes a protocol.json document and validates it.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse protocol descriptor: %w", err)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return &d, nil
}

// Load reads and parses a protocol.json file from disk.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protocol descriptor %s: %w", path, err)
	}
	return Parse(data)
}

// LoadFiles loads one descriptor from several files, e.g. Chromium's
// browser_protocol.json and js_protocol.json, and merges them. With no path
// it returns the bundled descriptor.
func LoadFiles(paths ...string) (*Descriptor, error) {
	if len(paths) == 0 {
		return Default()
	}

	descs := make([]*Descriptor, 0, len(paths))
	for _, path := range paths {
		d, err := Load(path)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	if len(descs) == 1 {
		return descs[0], nil
	}

	merged := Merge(descs...)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge concatenates the domains of several descriptors, in argument order.
// Chromium ships the browser and JavaScript halves of the protocol as two
// files; a session needs both. The version of the first descriptor wins.
// The result is not validated, call Validate to detect duplicate domains.
func Merge(descs ...*Descriptor) *Descriptor {
	merged := &Descriptor{}
	for i, d := range descs {
		if d == nil {
			continue
		}
		if i == 0 {
			merged.Version = d.Version
		}
		merged.Domains = append(merged.Domains, d.Domains...)
	}
	return merged
}

// Domain returns the domain declared under name
func (d *Descriptor) Domain(name string) (*Domain, bool) {
	for i := range d.Domains {
		if d.Domains[i].Name == name {
			return &d.Domains[i], true
		}
	}
	return nil, false
}

// HasCommand reports whether the domain declares the command
func (d *Domain) HasCommand(name string) bool {
	for _, c := range d.Commands {
		if c.Name == name {
			return true
		}
	}
	return false
}

// HasEvent reports whether the domain declares the event
func (d *Domain) HasEvent(name string) bool {
	for _, e := range d.Events {
		if e.Name == name {
			return true
		}
	}
	return false
}
