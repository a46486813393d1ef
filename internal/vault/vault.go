package vault

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "upsell"

// envPrefix is the environment fallback for keychain secrets:
// UPSELL_SECRET_<NAME>.
const envPrefix = "UPSELL_SECRET_"

// KnownSecrets are the secret names the daemon reads.
var KnownSecrets = []string{"api_token", "woocommerce_dsn", "postgres_dsn"}

// ErrNotFound is returned when a secret is neither in the keychain nor in
// the environment.
var ErrNotFound = errors.New("vault: secret not found")

// Vault stores secrets (the API token, order database DSNs) in the OS
// keychain with an environment variable fallback.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores a secret in the OS keychain.
func (v *Vault) Set(name, secret string) error {
	if name == "" {
		return errors.New("vault: secret name must not be empty")
	}
	if err := keyring.Set(serviceName, name, secret); err != nil {
		return fmt.Errorf("vault: set %s: %w", name, err)
	}
	return nil
}

// Get retrieves a secret from the keychain, then from UPSELL_SECRET_<NAME>.
func (v *Vault) Get(name string) (string, error) {
	secret, err := keyring.Get(serviceName, name)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := envVar(name)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: %q is not in the keychain and %s is not set", ErrNotFound, name, envKey)
}

// Delete removes a secret from the keychain.
func (v *Vault) Delete(name string) error {
	if err := keyring.Delete(serviceName, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return fmt.Errorf("vault: delete %s: %w", name, err)
	}
	return nil
}

// List returns the known secrets that are currently available from either
// the keychain or the environment.
func (v *Vault) List() []string {
	var names []string
	for _, name := range KnownSecrets {
		if _, err := v.Get(name); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// ResolveKeyRef parses a secret reference and returns the secret.
// Supported formats:
//   - "keyring://upsell/<name>"
//   - "env:VARIABLE_NAME"
//   - "file:///path/to/secret"
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	switch {
	case strings.HasPrefix(keyRef, "keyring://"):
		path := strings.TrimPrefix(keyRef, "keyring://")
		service, name, ok := strings.Cut(path, "/")
		if !ok || service != serviceName || name == "" {
			return "", fmt.Errorf("vault: invalid key reference %q (expected \"keyring://upsell/<name>\")", keyRef)
		}
		return v.Get(name)

	case strings.HasPrefix(keyRef, "env:"):
		name := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(name); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("%w: environment variable %q is not set", ErrNotFound, name)

	case strings.HasPrefix(keyRef, "file://"):
		path := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("vault: reading secret file %q: %w", path, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("vault: secret file %q is empty", path)
		}
		return secret, nil
	}

	return "", fmt.Errorf("vault: invalid key reference %q (expected \"keyring://upsell/<name>\", \"env:VARIABLE_NAME\", or \"file:///path/to/secret\")", keyRef)
}

func envVar(name string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
