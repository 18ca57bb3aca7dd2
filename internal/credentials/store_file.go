package credentials

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type credentialsFile struct {
	Tenants map[string]map[string]string `yaml:"tenants"`
}

// NewFileStore loads a YAML credentials file of the form
//
//	tenants:
//	  contoso:
//	    tenant-domain: contoso.onmicrosoft.com
//	    client-id: ...
//
// It is meant for local runs; production deployments use the Kubernetes
// store.
func NewFileStore(path string) (*MemoryStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %q: %w", path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("credentials file %q must not be accessible by group or others (mode %s)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %q: %w", path, err)
	}

	var parsed credentialsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		// yaml errors may quote the offending line, which can hold a secret
		return nil, fmt.Errorf("failed to parse credentials file %q", path)
	}
	return NewMemoryStore(parsed.Tenants), nil
}
