// Package codec converts task arguments and results to bytes and back.
//
// The executor never looks inside a payload: it only routes the bytes a
// Codec produced in one process to the same Codec in another. Codecs are
// registered by name so that a worker process can resolve the codec the
// controller used for a given task.
//
// Three codecs ship with the package:
//
//   - "gob":  encoding/gob, the default. Handles any exported Go type.
//   - "json": github.com/goccy/go-json. Interoperable, human readable.
//   - "yaml": gopkg.in/yaml.v3. Handy for configuration-shaped payloads.
//
// The process-wide default can be chosen with SetDefault or with the
// LOKY_CODEC environment variable; individual functions may override it.
package codec

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
)

// EnvVar selects the default codec when SetDefault was never called.
const EnvVar = "LOKY_CODEC"

// DefaultName is used when neither SetDefault nor EnvVar chose a codec.
const DefaultName = "gob"

// Codec serializes values for transfer between processes.
type Codec interface {
	// Name identifies the codec across processes.
	Name() string

	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into the value pointed to by v.
	Unmarshal(data []byte, v any) error
}

// UnknownCodecError is returned when a codec name is not registered.
type UnknownCodecError struct {
	Name   string
	Source string
	Known  []string
}

func (e *UnknownCodecError) Error() string {
	msg := fmt.Sprintf("unknown codec %q; registered codecs are %s", e.Name, strings.Join(e.Known, ", "))
	if e.Source != "" {
		msg += " (from " + e.Source + ")"
	}
	return msg
}

var registry = struct {
	sync.RWMutex
	codecs   map[string]Codec
	override string
}{
	codecs: make(map[string]Codec),
}

func init() {
	Register(Gob{})
	Register(JSON{})
	Register(YAML{})
}

// Register makes c available under c.Name(), replacing any codec with the
// same name. Worker processes must register the same codecs, which happens
// naturally when registration runs from an init function.
func Register(c Codec) {
	registry.Lock()
	defer registry.Unlock()
	registry.codecs[c.Name()] = c
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	registry.RLock()
	defer registry.RUnlock()
	return lookupLocked(name, "")
}

func lookupLocked(name, source string) (Codec, error) {
	if c, ok := registry.codecs[name]; ok {
		return c, nil
	}
	return nil, &UnknownCodecError{Name: name, Source: source, Known: namesLocked()}
}

// SetDefault selects the process-wide default codec. An empty name clears
// the selection so EnvVar applies again.
func SetDefault(name string) error {
	registry.Lock()
	defer registry.Unlock()

	if name != "" {
		if _, err := lookupLocked(name, ""); err != nil {
			return err
		}
	}
	registry.override = name
	return nil
}

// Default returns the codec chosen by SetDefault, else by EnvVar, else gob.
// An unrecognized EnvVar value is reported as an *UnknownCodecError.
func Default() (Codec, error) {
	registry.RLock()
	defer registry.RUnlock()

	if registry.override != "" {
		return lookupLocked(registry.override, "")
	}
	if env := strings.TrimSpace(os.Getenv(EnvVar)); env != "" {
		return lookupLocked(env, EnvVar)
	}
	return lookupLocked(DefaultName, "")
}

// Names lists the registered codecs in sorted order.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry.codecs))
	for name := range registry.codecs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
