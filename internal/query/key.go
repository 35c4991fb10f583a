package query

import (
	"fmt"
	"strings"
)

// Key identifies a cached resource, e.g. "beach-weather:7".
type Key string

const keySeparator = ":"

// NewKey joins a resource kind with its parameters.
func NewKey(kind string, parts ...any) Key {
	if len(parts) == 0 {
		return Key(kind)
	}
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteString(keySeparator)
		fmt.Fprint(&b, p)
	}
	return Key(b.String())
}

// Kind returns the resource kind, used as the metrics label.
func (k Key) Kind() string {
	kind, _, _ := strings.Cut(string(k), keySeparator)
	return kind
}

// Params returns the parameters following the kind.
func (k Key) Params() []string {
	_, rest, ok := strings.Cut(string(k), keySeparator)
	if !ok {
		return nil
	}
	return strings.Split(rest, keySeparator)
}

func (k Key) String() string {
	return string(k)
}
