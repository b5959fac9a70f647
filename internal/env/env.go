package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to launched services: the OS
// environment as base, then supervisor-wide overrides, then per-service
// overrides.
type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies a list of "K=V" entries as global overrides, skipping
// malformed ones.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list: OS env (cached on first
// use), then global overrides, then perService "K=V" entries. ${VAR}
// references are expanded against the composed map (single pass, no
// recursion).
func (e *Env) Merge(perService []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var)
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perService {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
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
