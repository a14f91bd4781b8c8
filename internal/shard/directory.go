// Package shard maps business entity codes to the fleet server that owns them.
package shard

import (
	"fmt"
	"strings"

	"github.com/rpattn/fleetquery/internal/domain"
)

// DefaultSlotWidth is the number of entity slots a fleet-wide template fills.
const DefaultSlotWidth = 8

// Entry records the entities owned by one server.
type Entry struct {
	Server   string
	Host     string
	Entities []string
}

// Directory is a read-only view over the fleet and its entity ownership.
type Directory struct {
	entries     []Entry
	servers     []domain.ServerDescriptor
	owner       map[string]int
	subAccounts map[string][]string
}

// New builds a Directory. Every entity must belong to exactly one entry and
// every entry must name a server of the fleet (by name or host).
func New(entries []Entry, subAccounts map[string][]string, fleet []domain.ServerDescriptor) (*Directory, error) {
	dir := &Directory{
		entries:     make([]Entry, len(entries)),
		servers:     append([]domain.ServerDescriptor(nil), fleet...),
		owner:       make(map[string]int),
		subAccounts: make(map[string][]string, len(subAccounts)),
	}

	for idx, entry := range entries {
		entry.Entities = append([]string(nil), entry.Entities...)
		dir.entries[idx] = entry
		for _, code := range entry.Entities {
			if prev, taken := dir.owner[code]; taken {
				return nil, fmt.Errorf("entity %s claimed by both %s and %s", code, dir.entries[prev].Server, entry.Server)
			}
			dir.owner[code] = idx
		}
	}

	for code, accounts := range subAccounts {
		dir.subAccounts[code] = append([]string(nil), accounts...)
	}

	return dir, nil
}

// Servers returns the fleet in configuration order.
func (d *Directory) Servers() []domain.ServerDescriptor {
	return append([]domain.ServerDescriptor(nil), d.servers...)
}

// Server looks a descriptor up by name, case-insensitively.
func (d *Directory) Server(name string) (domain.ServerDescriptor, bool) {
	for _, server := range d.servers {
		if strings.EqualFold(server.Name, name) {
			return server, true
		}
	}
	return domain.ServerDescriptor{}, false
}

// ServerByHost looks a descriptor up by host.
func (d *Directory) ServerByHost(host string) (domain.ServerDescriptor, bool) {
	for _, server := range d.servers {
		if server.Host == host {
			return server, true
		}
	}
	return domain.ServerDescriptor{}, false
}

// ServerForEntity resolves the server that owns the entity code.
func (d *Directory) ServerForEntity(code string) (domain.ServerDescriptor, error) {
	code = strings.TrimSpace(code)
	idx, ok := d.owner[code]
	if !ok {
		return domain.ServerDescriptor{}, fmt.Errorf("entity %s: %w", code, domain.ErrEntityNotMapped)
	}
	entry := d.entries[idx]
	if server, found := d.Server(entry.Server); found {
		return server, nil
	}
	if server, found := d.ServerByHost(entry.Host); found {
		return server, nil
	}
	return domain.ServerDescriptor{}, fmt.Errorf("entity %s owned by %s: %w", code, entry.Server, domain.ErrServerNotFound)
}

// OwnedEntities returns the ordered entity codes owned by a server. The
// server is matched by name first and host second; unknown servers own
// nothing.
func (d *Directory) OwnedEntities(server domain.ServerDescriptor) []string {
	for _, entry := range d.entries {
		if server.Name != "" && strings.EqualFold(entry.Server, server.Name) {
			return append([]string(nil), entry.Entities...)
		}
	}
	for _, entry := range d.entries {
		if server.Host != "" && entry.Host == server.Host {
			return append([]string(nil), entry.Entities...)
		}
	}
	return []string{}
}

// Slots pads the owned entities of server to width positions. Empty slots
// are returned as "" and render as NULL. Entities beyond width are dropped.
func (d *Directory) Slots(server domain.ServerDescriptor, width int) []string {
	if width <= 0 {
		width = DefaultSlotWidth
	}
	owned := d.OwnedEntities(server)
	slots := make([]string, width)
	copy(slots, owned)
	return slots
}

// SubAccounts returns the deduplicated union of sub-accounts of the given
// entities in first-seen order, falling back to DefaultSubAccounts.
func (d *Directory) SubAccounts(entities []string) []string {
	seen := map[string]struct{}{}
	var accounts []string
	for _, code := range entities {
		for _, account := range d.subAccounts[code] {
			if _, dup := seen[account]; dup {
				continue
			}
			seen[account] = struct{}{}
			accounts = append(accounts, account)
		}
	}
	if len(accounts) == 0 {
		return DefaultSubAccounts()
	}
	return accounts
}
