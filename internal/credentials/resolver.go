// Package credentials resolves the user and password used to reach a server.
package credentials

import (
	"fmt"
	"os"
	"strings"

	"github.com/rpattn/fleetquery/internal/domain"
)

const defaultSecondaryMarker = "aps"

// Environment variables consulted when a server carries no credential.
const (
	EnvUser              = "SQL_USER"
	EnvPassword          = "SQL_PASSWORD"
	EnvSecondaryUser     = "SQL_USER_APS"
	EnvSecondaryPassword = "SQL_PASSWORD_APS"
	EnvContainerUser     = "SqlServer__Servers__0__User"
	EnvContainerPassword = "SqlServer__Servers__0__Password"
)

// Credential is a resolved user and password pair.
type Credential struct {
	User     string
	Password string
}

// Resolver applies the credential precedence: the server's own value, then
// the environment, then the first configured server carrying a value.
type Resolver struct {
	fleet  []domain.ServerDescriptor
	marker string
	lookup func(string) string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSecondaryMarker overrides the database-name marker that selects the
// secondary-system environment variables.
func WithSecondaryMarker(marker string) Option {
	return func(r *Resolver) {
		if marker != "" {
			r.marker = strings.ToLower(marker)
		}
	}
}

// WithEnvLookup replaces os.Getenv, mainly for tests.
func WithEnvLookup(lookup func(string) string) Option {
	return func(r *Resolver) {
		if lookup != nil {
			r.lookup = lookup
		}
	}
}

// NewResolver builds a Resolver over the configured fleet.
func NewResolver(fleet []domain.ServerDescriptor, opts ...Option) *Resolver {
	r := &Resolver{
		fleet:  append([]domain.ServerDescriptor(nil), fleet...),
		marker: defaultSecondaryMarker,
		lookup: os.Getenv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the credential to use for server when connecting to
// database. User and password are resolved independently through the same
// tiers. It never returns a credential with an empty user or password.
func (r *Resolver) Resolve(server domain.ServerDescriptor, database string) (Credential, error) {
	userKeys, passwordKeys := r.envKeys(database)

	cred := Credential{
		User:     firstNonEmpty(server.User, r.readEnv(userKeys...), r.firstConfigured(func(s domain.ServerDescriptor) string { return s.User })),
		Password: firstNonEmpty(server.Password, r.readEnv(passwordKeys...), r.firstConfigured(func(s domain.ServerDescriptor) string { return s.Password })),
	}
	if cred.User == "" || cred.Password == "" {
		return Credential{}, fmt.Errorf("server %s database %s: %w", server.Name, database, domain.ErrCredentialsUnresolved)
	}
	return cred, nil
}

func (r *Resolver) envKeys(database string) (users, passwords []string) {
	if strings.Contains(strings.ToLower(database), r.marker) {
		return []string{EnvSecondaryUser, EnvUser, EnvContainerUser},
			[]string{EnvSecondaryPassword, EnvPassword, EnvContainerPassword}
	}
	return []string{EnvUser, EnvSecondaryUser, EnvContainerUser},
		[]string{EnvPassword, EnvSecondaryPassword, EnvContainerPassword}
}

func (r *Resolver) readEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(r.lookup(key)); value != "" {
			return value
		}
	}
	return ""
}

func (r *Resolver) firstConfigured(field func(domain.ServerDescriptor) string) string {
	for _, server := range r.fleet {
		if value := strings.TrimSpace(field(server)); value != "" {
			return value
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
