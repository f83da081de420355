package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
)

// Domain is the facade for one protocol domain: one Command per declared
// command, plus event subscription scoped to the domain.
type Domain struct {
	name     string
	session  *Session
	commands map[string]Command
	order    []string // command names in descriptor order
	events   []string
}

// buildDomains creates one facade per domain of the descriptor. A malformed
// descriptor is rejected before any facade is built.
func buildDomains(desc *protocol.Descriptor, s *Session) (map[string]*Domain, []string, error) {
	if err := desc.Validate(); err != nil {
		return nil, nil, err
	}

	domains := make(map[string]*Domain, len(desc.Domains))
	names := make([]string, 0, len(desc.Domains))
	for _, pd := range desc.Domains {
		d := &Domain{
			name:     pd.Name,
			session:  s,
			commands: make(map[string]Command, len(pd.Commands)),
			order:    make([]string, 0, len(pd.Commands)),
			events:   make([]string, 0, len(pd.Events)),
		}
		for _, c := range pd.Commands {
			d.commands[c.Name] = Command{domain: d, name: c.Name}
			d.order = append(d.order, c.Name)
		}
		for _, e := range pd.Events {
			d.events = append(d.events, e.Name)
		}
		domains[pd.Name] = d
		names = append(names, pd.Name)
	}

	return domains, names, nil
}

// Name returns the domain name, e.g. "Network"
func (d *Domain) Name() string {
	return d.name
}

// Commands returns the declared command names in descriptor order
func (d *Domain) Commands() []string {
	return append([]string(nil), d.order...)
}

// Events returns the declared event names in descriptor order
func (d *Domain) Events() []string {
	return append([]string(nil), d.events...)
}

// Lookup returns the command declared under name.
func (d *Domain) Lookup(name string) (Command, bool) {
	c, ok := d.commands[name]
	return c, ok
}

// Command returns the command declared under name. Asking for a command the
// descriptor does not declare is a programming error and panics; use Lookup
// for names that come from user input.
func (d *Domain) Command(name string) Command {
	c, ok := d.commands[name]
	if !ok {
		panic(fmt.Sprintf("cdp: domain %s has no command %q", d.name, name))
	}
	return c
}

// On subscribes to an event of this domain. It is equivalent to
// Session.On("<Domain>.<event>", fn).
func (d *Domain) On(event string, fn Listener) func() {
	return d.session.On(qualify(d.name, event), fn)
}

// Command is a bound "Domain.command" method of a session
type Command struct {
	domain *Domain
	name   string
}

// Method returns the qualified wire name, e.g. "Network.enable"
func (c Command) Method() string {
	return qualify(c.domain.name, c.name)
}

// Send issues the command. params may be nil; cb may be nil for
// fire-and-forget.
func (c Command) Send(params any, cb Callback) error {
	_, err := c.domain.session.Send(c.Method(), params, cb)
	return err
}

// Call issues the command and waits for its reply.
func (c Command) Call(ctx context.Context, params any) (json.RawMessage, error) {
	return c.domain.session.Call(ctx, c.Method(), params)
}

// Invoke accepts the loose argument forms of the scripting API:
//
//	Invoke()               no params, fire-and-forget
//	Invoke(cb)             no params, with callback
//	Invoke(params)         params, fire-and-forget
//	Invoke(params, cb)     params and callback
//
// A callback is a Callback or a func(json.RawMessage, error). A single
// function argument is always the callback; a typed nil callback counts as
// "no callback".
func (c Command) Invoke(args ...any) error {
	params, cb, err := resolveArgs(args)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Method(), err)
	}
	return c.Send(params, cb)
}

func resolveArgs(args []any) (params any, cb Callback, err error) {
	switch len(args) {
	case 0:
		return nil, nil, nil
	case 1:
		if fn, ok := asCallback(args[0]); ok {
			return nil, fn, nil
		}
		return args[0], nil, nil
	case 2:
		if args[1] == nil {
			return args[0], nil, nil
		}
		fn, ok := asCallback(args[1])
		if !ok {
			return nil, nil, fmt.Errorf("%w: second argument is %T, not a callback", ErrInvalidArguments, args[1])
		}
		return args[0], fn, nil
	default:
		return nil, nil, fmt.Errorf("%w: got %d arguments, want at most 2", ErrInvalidArguments, len(args))
	}
}

func asCallback(v any) (Callback, bool) {
	switch fn := v.(type) {
	case Callback:
		return fn, true
	case func(json.RawMessage, error):
		return fn, true
	}
	return nil, false
}
