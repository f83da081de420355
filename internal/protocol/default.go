package protocol

import _ "embed"

//go:embed protocol.json
var defaultProtocol []byte

// Default parses the descriptor bundled with the module. It covers the
// commonly used stable domains of the DevTools protocol 1.3. The result is
// freshly parsed on each call; callers that need it repeatedly should keep
// their own copy.
func Default() (*Descriptor, error) {
	return Parse(defaultProtocol)
}
