package hosts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// hostsKey is the top-level mapping that holds the named host entries
const hostsKey = "host"

// fileEntry mirrors one named entry. Pointers distinguish a missing field
// from an empty one.
type fileEntry struct {
	IP       *string `yaml:"ip"`
	Port     *string `yaml:"port"`
	User     *string `yaml:"user"`
	Pass     *string `yaml:"pass"`
	Protocol string  `yaml:"protocol,omitempty"`
}

// FileDirectory reads and writes the host list from a YAML file of the form:
//
//	host:
//	  web01:
//	    ip: "10.0.0.5"
//	    port: "22"
//	    user: root
//	    pass: secret
//
// Entries are returned in file order.
type FileDirectory struct {
	path string

	// mu serialises Save against Load
	mu sync.RWMutex
}

// NewFileDirectory creates a FileDirectory backed by path.
func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{path: path}
}

// Path returns the backing file path.
func (d *FileDirectory) Path() string {
	return d.path
}

// Load parses the host file. A missing file yields an empty list; any parse or
// format error is returned.
func (d *FileDirectory) Load(ctx context.Context) ([]Host, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Host{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a host document.
func Parse(data []byte) ([]Host, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse hosts file: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return []Host{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse hosts file: line %d: expected a mapping at the top level", root.Line)
	}

	hosts := []Host{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != hostsKey {
			continue
		}
		table := root.Content[i+1]
		if table.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("parse hosts file: line %d: %q must be a mapping of named hosts", table.Line, hostsKey)
		}

		for j := 0; j+1 < len(table.Content); j += 2 {
			host, err := decodeEntry(table.Content[j], table.Content[j+1])
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, host)
		}
	}

	return hosts, nil
}

func decodeEntry(key, value *yaml.Node) (Host, error) {
	name := key.Value
	if value.Kind != yaml.MappingNode {
		return Host{}, fmt.Errorf("parse hosts file: line %d: host %q must be a mapping", value.Line, name)
	}

	var entry fileEntry
	if err := value.Decode(&entry); err != nil {
		return Host{}, fmt.Errorf("parse hosts file: host %q: %w", name, err)
	}

	fields := []struct {
		name string
		val  *string
	}{
		{"ip", entry.IP},
		{"port", entry.Port},
		{"user", entry.User},
		{"pass", entry.Pass},
	}
	for _, f := range fields {
		if f.val == nil {
			return Host{}, fmt.Errorf("parse hosts file: line %d: host %q is missing %q", value.Line, name, f.name)
		}
	}

	return Host{
		Name:       name,
		Address:    *entry.IP,
		Port:       *entry.Port,
		Username:   *entry.User,
		Credential: *entry.Pass,
		Protocol:   entry.Protocol,
	}, nil
}

// Save replaces the host file with hosts, in order. Hosts without a name are
// stored as host1, host2, ... by position. The file is replaced atomically.
func (d *FileDirectory) Save(ctx context.Context, hosts []Host) error {
	data, err := Encode(hosts)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hosts dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hosts-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp hosts file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write hosts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close hosts file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod hosts file: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("replace hosts file: %w", err)
	}
	return nil
}

// Encode renders hosts as a host document.
func Encode(hosts []Host) ([]byte, error) {
	table := &yaml.Node{Kind: yaml.MappingNode}
	for i, h := range hosts {
		name := h.Name
		if name == "" {
			name = fmt.Sprintf("host%d", i+1)
		}

		var value yaml.Node
		if err := value.Encode(h); err != nil {
			return nil, fmt.Errorf("encode host %q: %w", name, err)
		}
		table.Content = append(table.Content, scalar(name), &value)
	}

	root := &yaml.Node{
		Kind:    yaml.MappingNode,
		Content: []*yaml.Node{scalar(hostsKey), table},
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encode hosts file: %w", err)
	}
	return out, nil
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
