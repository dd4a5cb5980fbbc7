package permission

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/modubot"
	"github.com/golobby/cast"
)

// Capabilities is the part of the capability registry the checker reads.
type Capabilities interface {
	modubot.CapabilityReader
	Namespace(namespace string) map[string]any
}

// Checker resolves an actor to a profile namespace and compares the flag
// stored there with the wanted value. Flags are read from the capability
// registry on every check, so modules loaded later can add or change them.
type Checker struct {
	caps           Capabilities
	defaultProfile string

	mu     sync.RWMutex
	grants map[string]string
}

// NewChecker creates a checker reading flags from caps.
func NewChecker(caps Capabilities, defaultProfile string, grants map[string]string) *Checker {
	return &Checker{
		caps:           caps,
		defaultProfile: defaultProfile,
		grants:         maps.Clone(grants),
	}
}

// Profile returns the profile namespace that applies to actor.
func (c *Checker) Profile(actor string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if profile, ok := c.grants[actor]; ok && profile != "" {
		return profile
	}
	return c.defaultProfile
}

// Grant assigns profile to actor.
func (c *Checker) Grant(actor, profile string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.grants == nil {
		c.grants = make(map[string]string)
	}
	c.grants[actor] = profile
}

// Allowed reports whether the actor's profile stores flag=want. Boolean-like
// values ("True", "false", true) compare as booleans, anything else as a
// case-insensitive string. A missing flag is never allowed.
func (c *Checker) Allowed(actor, flag, want string) bool {
	value, ok := c.caps.Lookup(c.Profile(actor), flag)
	if !ok {
		return false
	}
	return matches(value, want)
}

func matches(value any, want string) bool {
	boolType := reflect.TypeOf(false)

	if wanted, err := cast.FromType(want, boolType); err == nil {
		switch v := value.(type) {
		case bool:
			return v == wanted.(bool)
		case string:
			if got, err := cast.FromType(v, boolType); err == nil {
				return got.(bool) == wanted.(bool)
			}
		}
	}
	return strings.EqualFold(fmt.Sprint(value), want)
}

// Flags returns the flags visible to actor, sorted by name.
func (c *Checker) Flags(actor string) []string {
	ns := c.caps.Namespace(c.Profile(actor))
	out := make([]string, 0, len(ns))
	for _, key := range slices.Sorted(maps.Keys(ns)) {
		out = append(out, fmt.Sprintf("%s=%v", key, ns[key]))
	}
	return out
}
