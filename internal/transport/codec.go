package transport

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// The HTTP binding needs to decode an incoming envelope's Body into the
// concrete Go type its Kind names, but internal/transport cannot import
// internal/node (node already imports transport) — so node registers its
// own message types here at package init instead.

var (
	registryMu sync.RWMutex
	registry   = make(map[string]reflect.Type)
)

// RegisterMessageType teaches the wire codec how to decode messages named
// name. zero may be a value or pointer of the message's concrete type.
func RegisterMessageType(name string, zero any) {
	t := reflect.TypeOf(zero)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	registryMu.Lock()
	registry[name] = t
	registryMu.Unlock()
}

// MessageName returns the wire name for msg's concrete type: its bare Go
// type name, which is what RegisterMessageType is expected to key on.
func MessageName(msg any) string {
	return reflect.TypeOf(msg).Name()
}

// DecodeMessage allocates a zero value of the type registered under name and
// unmarshals body into it.
func DecodeMessage(name string, body []byte) (any, error) {
	registryMu.RLock()
	t, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unregistered message type %q", name)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(body, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("transport: decoding %q: %w", name, err)
	}
	return ptr.Elem().Interface(), nil
}
