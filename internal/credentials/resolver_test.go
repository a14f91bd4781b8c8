package credentials

import (
	"errors"
	"testing"

	"github.com/rpattn/fleetquery/internal/domain"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestResolvePrefersServerCredential(t *testing.T) {
	r := NewResolver(nil, WithEnvLookup(envOf(map[string]string{EnvUser: "env", EnvPassword: "env"})))

	cred, err := r.Resolve(domain.ServerDescriptor{Name: "a", User: "own", Password: "pw"}, "AASI")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.User != "own" {
		t.Fatalf("expected server credential, got %+v", cred)
	}
}

func TestResolveFlavorAwareEnvironment(t *testing.T) {
	env := envOf(map[string]string{
		EnvUser:              "u_generic",
		EnvPassword:          "p_generic",
		EnvSecondaryUser:     "u_aps",
		EnvSecondaryPassword: "p_aps",
	})
	r := NewResolver(nil, WithEnvLookup(env))
	server := domain.ServerDescriptor{Name: "a"}

	cred, err := r.Resolve(server, "Mineiracao_APS")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.User != "u_aps" || cred.Password != "p_aps" {
		t.Fatalf("expected secondary credential, got %+v", cred)
	}

	cred, err = r.Resolve(server, "AASI")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.User != "u_generic" || cred.Password != "p_generic" {
		t.Fatalf("expected generic credential, got %+v", cred)
	}
}

func TestResolveFallsBackAcrossFlavors(t *testing.T) {
	env := envOf(map[string]string{EnvUser: "u_generic", EnvPassword: "p_generic"})
	r := NewResolver(nil, WithEnvLookup(env))

	cred, err := r.Resolve(domain.ServerDescriptor{Name: "a"}, "mineiracao_aps")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.User != "u_generic" {
		t.Fatalf("expected generic fallback for secondary database, got %+v", cred)
	}
}

func TestResolveContainerVariables(t *testing.T) {
	env := envOf(map[string]string{EnvContainerUser: "svc", EnvContainerPassword: "pw"})
	r := NewResolver(nil, WithEnvLookup(env))

	cred, err := r.Resolve(domain.ServerDescriptor{Name: "a"}, "AASI")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.User != "svc" {
		t.Fatalf("expected container credential, got %+v", cred)
	}
}

func TestResolveSiblingServer(t *testing.T) {
	fleet := []domain.ServerDescriptor{
		{Name: "a"},
		{Name: "b", User: "only-user"},
		{Name: "c", User: "sib", Password: "pw"},
		{Name: "d", User: "late", Password: "pw"},
	}
	r := NewResolver(fleet, WithEnvLookup(envOf(nil)))

	cred, err := r.Resolve(fleet[0], "AASI")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.User != "only-user" || cred.Password != "pw" {
		t.Fatalf("expected first configured user and password, got %+v", cred)
	}
}

func TestResolveUnresolved(t *testing.T) {
	env := envOf(map[string]string{EnvUser: "user-without-password"})
	r := NewResolver([]domain.ServerDescriptor{{Name: "a"}}, WithEnvLookup(env))

	_, err := r.Resolve(domain.ServerDescriptor{Name: "a"}, "AASI")
	if !errors.Is(err, domain.ErrCredentialsUnresolved) {
		t.Fatalf("expected ErrCredentialsUnresolved, got %v", err)
	}
}

func TestResolveCustomMarker(t *testing.T) {
	env := envOf(map[string]string{
		EnvUser:              "u_generic",
		EnvPassword:          "p_generic",
		EnvSecondaryUser:     "u_sec",
		EnvSecondaryPassword: "p_sec",
	})
	r := NewResolver(nil, WithEnvLookup(env), WithSecondaryMarker("LEDGER"))

	cred, err := r.Resolve(domain.ServerDescriptor{Name: "a"}, "main_ledger")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.User != "u_sec" {
		t.Fatalf("expected secondary credential for custom marker, got %+v", cred)
	}
}
