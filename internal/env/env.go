// Package env composes the environment handed to tool invocations and
// model processes.
package env

import (
	"maps"
	"os"
	"sort"
	"strings"
)

type Var map[string]string

type Env struct {
	Var Var // overrides applied on top of the base (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromMap returns an Env whose base is m instead of the OS environment.
func FromMap(m map[string]string) *Env {
	e := New()
	e.env = maps.Clone(Var(m))
	if e.env == nil {
		e.env = make(Var)
	}
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

func parse(kvs []string) Var {
	out := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet returns a copy of e with K=V set; e is left untouched.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{Var: maps.Clone(e.Var), env: e.env}
	c.Set(k, v)
	return c
}

// Unset removes an override.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// PrependPath prepends dirs to the PATH-like variable k, keeping the
// existing value after them.
func (e *Env) PrependPath(k string, dirs ...string) {
	if len(dirs) == 0 {
		return
	}
	parts := append([]string{}, dirs...)
	if cur := e.Getenv(k); cur != "" {
		parts = append(parts, cur)
	}
	e.Set(k, strings.Join(parts, string(os.PathListSeparator)))
}

// Map composes base, overrides and perProc ("K=V") overrides, in that
// order, and expands ${VAR} references against the composed map.
func (e *Env) Map(perProc []string) Var {
	if e.env == nil {
		e.FromOS()
	}
	m := maps.Clone(e.env)
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	maps.Copy(m, parse(perProc))
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	return expanded
}

// Merge is Map rendered as a sorted "K=V" list for exec.Cmd.Env.
func (e *Env) Merge(perProc []string) []string {
	m := e.Map(perProc)
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Getenv looks k up in the composed environment.
func (e *Env) Getenv(k string) string {
	if v, ok := e.Var[k]; ok {
		return expand(v, e.Map(nil))
	}
	if e.env == nil {
		e.FromOS()
	}
	return e.env[k]
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
