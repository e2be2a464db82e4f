package registry

import (
	"sort"
	"strings"
)

// Entry is the static identity record of a single orchestrator node.
type Entry struct {
	Address   string `yaml:"address" toml:"address" json:"address"`
	Name      string `yaml:"name" toml:"name" json:"name"`
	PublicKey string `yaml:"pubkey" toml:"pubkey" json:"pubkey"`
}

// Registry maps node addresses to their declared identity. It is immutable
// once constructed and safe for concurrent use.
type Registry struct {
	byAddress map[string]Entry
	ordered   []Entry
}

// New builds a Registry from the given entries. Later duplicates of an address
// replace earlier ones.
func New(entries []Entry) *Registry {
	r := &Registry{byAddress: make(map[string]Entry, len(entries))}
	for _, entry := range entries {
		entry.Address = strings.TrimSpace(entry.Address)
		if entry.Address == "" {
			continue
		}
		r.byAddress[entry.Address] = entry
	}

	r.ordered = make([]Entry, 0, len(r.byAddress))
	for _, entry := range r.byAddress {
		r.ordered = append(r.ordered, entry)
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Address < r.ordered[j].Address
	})
	return r
}

// Lookup returns the entry for address.
func (r *Registry) Lookup(address string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	entry, ok := r.byAddress[address]
	return entry, ok
}

// DisplayName returns the registered name for address, or a synthetic
// "Unknown-<address>" name when the address is not registered.
func (r *Registry) DisplayName(address string) string {
	if entry, ok := r.Lookup(address); ok && entry.Name != "" {
		return entry.Name
	}
	return UnknownName(address)
}

// Entries returns a copy of all entries ordered by address.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.ordered...)
}

// Addresses returns all registered addresses ordered by address.
func (r *Registry) Addresses() []string {
	if r == nil {
		return nil
	}
	addresses := make([]string, 0, len(r.ordered))
	for _, entry := range r.ordered {
		addresses = append(addresses, entry.Address)
	}
	return addresses
}

// Len reports the number of registered nodes.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}

// UnknownName is the display name used for addresses missing from the registry.
func UnknownName(address string) string {
	return "Unknown-" + address
}

// Slug converts a pillar name into its URL form: lowercase alphanumerics only.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
