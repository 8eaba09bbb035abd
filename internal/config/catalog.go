package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rezkam/docrepo/internal/docstore"
	"gopkg.in/yaml.v3"
)

// CatalogConfig points at the YAML file declaring the containers to provision.
type CatalogConfig struct {
	ContainersFile string `env:"DOCREPO_CONTAINERS_FILE"`
}

// Catalog is the declared set of containers of one database.
//
//	database: docrepo
//	containers:
//	  - id: users
//	    partitionKeyPath: /tenantId
//	    uniqueKeys:
//	      - paths: [/email]
type Catalog struct {
	// Database overrides DOCREPO_STORE_DATABASE when set.
	Database   string                   `yaml:"database"`
	Containers []docstore.ContainerSpec `yaml:"containers"`
}

// Load reads the catalog file. An unset path yields an empty catalog.
func (c CatalogConfig) Load() (*Catalog, error) {
	if c.ContainersFile == "" {
		return &Catalog{}, nil
	}
	data, err := os.ReadFile(c.ContainersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read container catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog. Unknown keys are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse container catalog: %w", err)
	}

	seen := make(map[string]bool, len(cat.Containers))
	for i, spec := range cat.Containers {
		spec = spec.WithDefaults()
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("container %d: %w", i, err)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("container %q declared twice", spec.ID)
		}
		seen[spec.ID] = true
		cat.Containers[i] = spec
	}
	if cat.Database != "" && !docstore.ValidName(cat.Database) {
		return nil, fmt.Errorf("%w: invalid database name %q", docstore.ErrInvalidSpec, cat.Database)
	}
	return &cat, nil
}

// DatabaseOr returns the catalog database, or fallback when the catalog does not name one.
func (c *Catalog) DatabaseOr(fallback string) string {
	if c.Database != "" {
		return c.Database
	}
	return fallback
}
