package statefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/replicawatch/internal/cluster"
)

// ErrInvalidDocument is returned for state files that parse but are not
// a usable cluster state.
var ErrInvalidDocument = errors.New("invalid state document")

// Document is the on-disk form of the cluster state.
//
//	live_nodes: [node-1, node-2]
//	collections:
//	  - name: books
//	    shards:
//	      - name: shard1
//	        replicas:
//	          - {name: core_node1, core: books_shard1_replica_n1, node_name: node-1, state: active, leader: true}
type Document struct {
	LiveNodes   []string             `yaml:"live_nodes"`
	Collections []cluster.Collection `yaml:"collections"`
}

// Parse decodes and validates a state document. Unknown fields are rejected
// so that typos do not silently drop replicas.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		// An empty file is most likely caught mid-write; treating it as "no
		// collections" would delete everything.
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses the state document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func (d *Document) validate() error {
	seen := make(map[string]bool, len(d.Collections))
	for _, c := range d.Collections {
		if c.Name == "" {
			return fmt.Errorf("%w: collection without name", ErrInvalidDocument)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate collection %q", ErrInvalidDocument, c.Name)
		}
		seen[c.Name] = true

		ids := make(map[string]bool)
		for _, s := range c.Slices {
			for _, r := range s.Replicas {
				if r.Name == "" {
					return fmt.Errorf("%w: replica without name in %s/%s", ErrInvalidDocument, c.Name, s.Name)
				}
				if ids[r.Name] {
					return fmt.Errorf("%w: duplicate replica %q in %s", ErrInvalidDocument, r.Name, c.Name)
				}
				ids[r.Name] = true
				if !r.State.Valid() {
					return fmt.Errorf("%w: replica %s/%s has unknown state %q", ErrInvalidDocument, c.Name, r.Name, r.State)
				}
			}
		}
	}
	return nil
}

// Snapshot converts the document into the arguments of
// coordinator.StateStore.ApplySnapshot.
func (d *Document) Snapshot() ([]*cluster.Collection, cluster.LiveNodes) {
	collections := make([]*cluster.Collection, len(d.Collections))
	for i := range d.Collections {
		collections[i] = d.Collections[i].Clone()
	}
	return collections, cluster.NewLiveNodes(d.LiveNodes...)
}

// Marshal encodes the document back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
