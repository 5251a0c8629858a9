// Package env abstracts environment variable lookups so configuration can be
// tested without touching the process environment.
package env

import (
	"os"
	"strings"
)

// LookupFunc defines a function to look up a key from the environment.
type LookupFunc func(key string) (string, bool)

// Lookup is the LookupFunc backed by the process environment.
func Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// ConstLookup returns a LookupFunc that resolves keys from the given map.
func ConstLookup(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

// EmptyLookup is a LookupFunc that always returns "" and false.
func EmptyLookup(string) (string, bool) { return "", false }

// ParseList splits a comma separated value. A trailing comma
// doesn't produce an empty element.
func ParseList(v string) []string {
	if v == "" {
		return nil
	}
	elems := strings.Split(v, ",")
	// If last element is a void string,
	// because value contained an ending comma,
	// remove it
	if elems[len(elems)-1] == "" {
		elems = elems[:len(elems)-1]
	}

	return elems
}
