// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobrunner

import (
	"fmt"
	"strings"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/cerrors"
)

// EnvVarsParam is the job parameter holding user supplied KEY=VALUE entries.
const EnvVarsParam = "env_vars"

// Environment is an ordered overlay of variables that every child process
// of a job inherits on top of the agent's own environment. The agent's
// process environment itself is never modified, so nothing leaks from one
// job to the next.
type Environment struct {
	keys   []string
	values map[string]string
}

// NewEnvironment returns an empty overlay.
func NewEnvironment() *Environment {
	return &Environment{values: make(map[string]string)}
}

// Set adds or replaces a variable. A replaced variable keeps its position.
func (e *Environment) Set(key, value string) {
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Get returns the value of key in the overlay.
func (e *Environment) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the variable names in the order they were first set.
func (e *Environment) Keys() []string {
	return append([]string(nil), e.keys...)
}

// Pairs returns the overlay as KEY=VALUE entries suitable for exec.Cmd.Env.
func (e *Environment) Pairs() []string {
	pairs := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		pairs = append(pairs, k+"="+e.values[k])
	}
	return pairs
}

// Clone returns an independent copy.
func (e *Environment) Clone() *Environment {
	c := NewEnvironment()
	for _, k := range e.keys {
		c.Set(k, e.values[k])
	}
	return c
}

// splitEnvVar splits on the first '='; values may contain more of them.
func splitEnvVar(entry string) (string, string, error) {
	idx := strings.IndexByte(entry, '=')
	if idx <= 0 {
		return "", "", &cerrors.ErrInvalidEnvVar{Entry: entry}
	}
	return entry[:idx], entry[idx+1:], nil
}

// SetJobEnvVars reads the env_vars parameter, a list of KEY=VALUE strings,
// and sets each variable in env. A single string is read as one entry per
// line. Malformed entries are reported and nothing is set in that case.
func SetJobEnvVars(env *Environment, params map[string]interface{}) error {
	raw, ok := params[EnvVarsParam]
	if !ok || raw == nil {
		return nil
	}

	var entries []string
	switch v := raw.(type) {
	case []string:
		entries = v
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return &cerrors.ErrInvalidParam{Name: EnvVarsParam, Err: fmt.Errorf("entry %v is not a string", item)}
			}
			entries = append(entries, s)
		}
	case string:
		for _, line := range strings.Split(v, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				entries = append(entries, line)
			}
		}
	default:
		return &cerrors.ErrInvalidParam{Name: EnvVarsParam, Err: fmt.Errorf("unsupported type %T", raw)}
	}

	type kv struct{ k, v string }
	parsed := make([]kv, 0, len(entries))
	for _, entry := range entries {
		k, v, err := splitEnvVar(entry)
		if err != nil {
			return err
		}
		parsed = append(parsed, kv{k, v})
	}
	for _, p := range parsed {
		env.Set(p.k, p.v)
	}
	return nil
}
