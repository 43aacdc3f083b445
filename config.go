package coap

import (
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// GatewayConfig is the top-level configuration the cmd/coap-gateway CLI
// binds from file/flags/env via viper, then validates with
// go-playground/validator before anything is wired up.
type GatewayConfig struct {
	ListenAddr   string   `yaml:"listen_addr" mapstructure:"listen_addr" validate:"required"`
	AdminAddr    string   `yaml:"admin_addr" mapstructure:"admin_addr" validate:"required"`
	Multicast    bool     `yaml:"multicast" mapstructure:"multicast"`
	PoolSize     int      `yaml:"pool_size" mapstructure:"pool_size" validate:"gt=0"`
	Manifest     string   `yaml:"manifest" mapstructure:"manifest"`
	RngSeed      int64    `yaml:"rng_seed" mapstructure:"rng_seed"`
	Configure    Configure `yaml:"retransmission" mapstructure:"retransmission"`
}

var configValidator = validator.New()

// Validate checks required fields and delegates the embedded
// Configure's invariants to Configure.Validate.
func (c GatewayConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return newErr(ErrInvalidData, err.Error())
	}
	return c.Configure.Validate()
}

// manifestNode is the YAML shape one resource-tree entry is read from.
// Children nest recursively, mirroring the Node/Tree shape of
// resource.go but without handlers (a manifest only describes
// structure and discovery metadata; handlers are wired in code after
// BuildTreeFromManifest returns).
type manifestNode struct {
	Segment     string         `yaml:"segment"`
	Description string         `yaml:"description"`
	Children    []manifestNode `yaml:"children"`
}

// ParseManifest decodes a YAML resource manifest (SPEC_FULL.md §4.4's
// static-tree bootstrap path, an alternative to building the tree by
// hand with AddChild/AddBranch calls).
func ParseManifest(data []byte) ([]manifestNode, error) {
	var roots []manifestNode
	if err := yaml.Unmarshal(data, &roots); err != nil {
		return nil, newErr(ErrInvalidData, fmt.Sprintf("parse manifest: %v", err))
	}
	return roots, nil
}

// BuildTreeFromManifest constructs a Tree from a parsed manifest. Nodes
// are created with no handlers; callers look them up by path (Tree.Lookup)
// to attach handlers afterward.
func BuildTreeFromManifest(roots []manifestNode) *Tree {
	t := NewTree()
	var attach func(parent *Node, entries []manifestNode)
	attach = func(parent *Node, entries []manifestNode) {
		for _, e := range entries {
			n := NewNode(e.Segment)
			n.Description = e.Description
			AddChild(parent, n)
			attach(n, e.Children)
		}
	}
	attach(t.Root, roots)
	return t
}
