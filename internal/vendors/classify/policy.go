package classify

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kycflow/internal/vendors"
)

// Policy decides whether a failed call to api blocks decisioning.
type Policy interface {
	IsFatal(api vendors.API) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(api vendors.API) bool

func (f PolicyFunc) IsFatal(api vendors.API) bool { return f(api) }

// APIPolicy is the per-API entry of the policy file.
type APIPolicy struct {
	Fatal   bool          `yaml:"fatal"`
	Timeout time.Duration `yaml:"timeout"`
}

// PolicyTable is the product policy loaded from configuration. APIs missing
// from the table are tolerable and use the gateway's default timeout.
type PolicyTable struct {
	APIs    map[vendors.API]APIPolicy `yaml:"apis"`
	Primary []vendors.API             `yaml:"primary"`
}

func (p *PolicyTable) IsFatal(api vendors.API) bool {
	if p == nil {
		return false
	}
	return p.APIs[api].Fatal
}

func (p *PolicyTable) Timeout(api vendors.API) time.Duration {
	if p == nil {
		return 0
	}
	return p.APIs[api].Timeout
}

// PrimaryAPIs lists the APIs whose success makes a result authoritative.
func (p *PolicyTable) PrimaryAPIs() []vendors.API {
	if p == nil {
		return nil
	}
	return append([]vendors.API(nil), p.Primary...)
}

// ParsePolicy decodes a policy document and rejects unknown APIs.
func ParsePolicy(data []byte) (*PolicyTable, error) {
	var p PolicyTable
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode vendor policy: %w", err)
	}
	for api, entry := range p.APIs {
		if !api.IsValid() {
			return nil, fmt.Errorf("vendor policy: unknown api %q", api)
		}
		if entry.Timeout < 0 {
			return nil, fmt.Errorf("vendor policy: negative timeout for %s", api)
		}
	}
	for _, api := range p.Primary {
		if !api.IsValid() {
			return nil, fmt.Errorf("vendor policy: unknown primary api %q", api)
		}
	}
	if p.APIs == nil {
		p.APIs = make(map[vendors.API]APIPolicy)
	}
	return &p, nil
}

// LoadPolicy reads and parses the policy file at path.
func LoadPolicy(path string) (*PolicyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vendor policy: %w", err)
	}
	return ParsePolicy(data)
}
