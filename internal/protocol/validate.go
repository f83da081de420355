package protocol

import "fmt"

// ConfigurationError reports a malformed descriptor. It is raised when a
// session is built, never while one is running.
type ConfigurationError struct {
	Domain string // Domain name, or "#<index>" when the name itself is missing
	Item   string // Offending command or event, empty for domain-level problems
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("invalid protocol descriptor: domain %s: %s: %s", e.Domain, e.Item, e.Reason)
	}
	if e.Domain != "" {
		return fmt.Sprintf("invalid protocol descriptor: domain %s: %s", e.Domain, e.Reason)
	}
	return "invalid protocol descriptor: " + e.Reason
}

// Validate checks that every domain, command and event has a unique,
// non-empty name.
func (d *Descriptor) Validate() error {
	if d == nil {
		return &ConfigurationError{Reason: "descriptor is nil"}
	}

	seenDomains := make(map[string]bool, len(d.Domains))
	for i, dom := range d.Domains {
		if dom.Name == "" {
			return &ConfigurationError{Domain: fmt.Sprintf("#%d", i), Reason: "domain has no name"}
		}
		if seenDomains[dom.Name] {
			return &ConfigurationError{Domain: dom.Name, Reason: "domain declared twice"}
		}
		seenDomains[dom.Name] = true

		seenCommands := make(map[string]bool, len(dom.Commands))
		for j, cmd := range dom.Commands {
			if cmd.Name == "" {
				return &ConfigurationError{Domain: dom.Name, Item: fmt.Sprintf("command #%d", j), Reason: "command has no name"}
			}
			if seenCommands[cmd.Name] {
				return &ConfigurationError{Domain: dom.Name, Item: "command " + cmd.Name, Reason: "declared twice"}
			}
			seenCommands[cmd.Name] = true
		}

		seenEvents := make(map[string]bool, len(dom.Events))
		for j, ev := range dom.Events {
			if ev.Name == "" {
				return &ConfigurationError{Domain: dom.Name, Item: fmt.Sprintf("event #%d", j), Reason: "event has no name"}
			}
			if seenEvents[ev.Name] {
				return &ConfigurationError{Domain: dom.Name, Item: "event " + ev.Name, Reason: "declared twice"}
			}
			seenEvents[ev.Name] = true
		}
	}

	return nil
}
