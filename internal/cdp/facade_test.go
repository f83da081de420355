package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
)

func TestDomainFacades(t *testing.T) {
	s := openFake(t, newFakeConn())

	assert.Equal(t, []string{"Foo", "Network", "Page"}, s.Domains())

	network := s.Domain("Network")
	assert.Equal(t, "Network", network.Name())
	assert.Equal(t, []string{"enable", "disable"}, network.Commands())
	assert.Equal(t, []string{"requestWillBeSent", "responseReceived"}, network.Events())
	assert.Equal(t, "Network.enable", network.Command("enable").Method())

	_, ok := network.Lookup("nope")
	assert.False(t, ok)
	_, ok = s.LookupDomain("Nope")
	assert.False(t, ok)
}

func TestUndeclaredNamesPanic(t *testing.T) {
	s := openFake(t, newFakeConn())

	assert.Panics(t, func() { s.Domain("Nope") })
	assert.Panics(t, func() { s.Domain("Network").Command("nope") })
}

func TestEventOnlyDomain(t *testing.T) {
	desc := &protocol.Descriptor{Domains: []protocol.Domain{
		{Name: "Inspector", Events: []protocol.Event{{Name: "detached"}}},
	}}

	released := make(chan struct{})
	close(released)
	s, err := Connect(context.Background(), fakeURL, desc,
		WithDialer(gatedDialer(newFakeConn(), released)), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.Domain("Inspector").Commands())
	assert.Equal(t, []string{"detached"}, s.Domain("Inspector").Events())
}

func TestInvokeArgumentForms(t *testing.T) {
	conn := newFakeConn()
	s := openFake(t, conn)
	bar := s.Domain("Foo").Command("bar")

	rec := &recorder{}
	params := map[string]any{"x": 1}

	require.NoError(t, bar.Invoke())
	assert.Equal(t, 0, s.Pending())

	require.NoError(t, bar.Invoke(rec.callback()))
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, bar.Invoke(params))
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, bar.Invoke(params, rec.callback()))
	assert.Equal(t, 2, s.Pending())

	plain := func(json.RawMessage, error) {}
	require.NoError(t, bar.Invoke(params, plain))
	assert.Equal(t, 3, s.Pending())

	// A typed nil callback means no callback.
	var none Callback
	require.NoError(t, bar.Invoke(none))
	require.NoError(t, bar.Invoke(params, nil))
	assert.Equal(t, 3, s.Pending())

	sent := conn.sent(t)
	require.Len(t, sent, 7)
	for i, req := range sent {
		assert.Equal(t, int64(i), req.ID)
		assert.Equal(t, "Foo.bar", req.Method)
	}
	assert.Nil(t, sent[0].Params)
	assert.Nil(t, sent[1].Params)
	assert.JSONEq(t, `{"x":1}`, string(sent[2].Params))
	assert.JSONEq(t, `{"x":1}`, string(sent[3].Params))
	assert.Nil(t, sent[5].Params)
}

func TestInvokeRejectsBadArguments(t *testing.T) {
	conn := newFakeConn()
	s := openFake(t, conn)
	bar := s.Domain("Foo").Command("bar")

	err := bar.Invoke(map[string]any{}, "not a callback")
	assert.ErrorIs(t, err, ErrInvalidArguments)
	assert.Contains(t, err.Error(), "Foo.bar")

	err = bar.Invoke(1, 2, 3)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	assert.Equal(t, 0, conn.sentCount())
}

func TestDomainOnMatchesSessionOn(t *testing.T) {
	conn := newFakeConn()
	s := openFake(t, conn)

	type delivery struct {
		who    string
		params string
	}
	got := make(chan delivery, 4)
	s.On("Foo.bar", func(p json.RawMessage) { got <- delivery{"session", string(p)} })
	s.Domain("Foo").On("bar", func(p json.RawMessage) { got <- delivery{"domain", string(p)} })

	conn.deliver(`{"method":"Foo.bar","params":{"x":1}}`)

	first, second := <-got, <-got
	assert.Equal(t, "session", first.who)
	assert.Equal(t, "domain", second.who)
	assert.JSONEq(t, `{"x":1}`, first.params)
	assert.JSONEq(t, `{"x":1}`, second.params)
}

func TestMalformedDescriptorFailsConnect(t *testing.T) {
	dialed := false
	dial := func(context.Context, string) (Conn, error) {
		dialed = true
		return nil, errors.New("unreachable")
	}

	desc := &protocol.Descriptor{Domains: []protocol.Domain{
		{Name: "Foo", Commands: []protocol.Command{{Name: "bar"}, {Name: "bar"}}},
	}}
	_, err := Connect(context.Background(), fakeURL, desc, WithDialer(dial), WithLogger(quietLogger()))

	var cerr *protocol.ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "Foo", cerr.Domain)
	assert.False(t, dialed)

	_, err = Connect(context.Background(), fakeURL, nil, WithDialer(dial), WithLogger(quietLogger()))
	assert.True(t, errors.As(err, &cerr))
	assert.False(t, dialed)
}
