// Package snapshot is the serialization adapter for AskrDB graphs.
//
// A snapshot is a JSON payload (every node with its identifier, variant
// tag, data fields, and link targets) plus a YAML manifest carrying the
// counts, the Context seed, and a BLAKE2b-256 checksum of the payload.
// Restoring seeds a Context past the highest persisted identifier, so
// identifiers stay stable across save/load.
//
// Example:
//
//	snap, err := snapshot.Export(g)
//	if err != nil {
//		return err
//	}
//	if err := snap.WriteFiles(dir, "scene"); err != nil {
//		return err
//	}
//
//	loaded, err := snapshot.ReadFiles(dir, "scene")
//	if err != nil {
//		return err
//	}
//	g2, err := snapshot.Restore(loaded, reg)
package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/askrdb/askr/pkg/graph"
	"github.com/askrdb/askr/pkg/log"
)

// FormatVersion identifies the snapshot layout. Bump on incompatible
// payload changes.
const FormatVersion = 1

// Manifest is the YAML sidecar describing a snapshot payload.
type Manifest struct {
	FormatVersion int    `yaml:"format_version"`
	CreatedAt     string `yaml:"created_at"`
	ContextTag    uint16 `yaml:"context_tag"`
	ContextSeq    uint64 `yaml:"context_seq"`
	Nodes         int    `yaml:"nodes"`
	Checksum      string `yaml:"checksum"`
}

// Snapshot is a manifest plus the JSON payload it describes.
type Snapshot struct {
	Manifest Manifest
	Payload  []byte
}

// payload is the JSON document layout.
type payload struct {
	Nodes []nodeRecord `json:"nodes"`
}

// nodeRecord serializes one node. Identifiers are emitted as raw uint64
// words so they survive the JSON round trip exactly.
type nodeRecord struct {
	ID      uint64              `json:"id"`
	Variant string              `json:"variant"`
	Data    map[string]any      `json:"data,omitempty"`
	Links   map[string][]uint64 `json:"links,omitempty"`
}

// Export serializes every live node of a graph.
func Export(g *graph.Graph) (*Snapshot, error) {
	reg := g.Registry()
	doc := payload{}

	for _, tag := range reg.Variants() {
		spec, _ := reg.Variant(tag)
		for _, entry := range g.IterVariant(tag) {
			rec := nodeRecord{
				ID:      uint64(entry.ID),
				Variant: string(tag),
			}
			for _, df := range spec.Data {
				value, ok := reg.ReadData(tag, entry.Node, df.Name, df.Type)
				if !ok || value == nil {
					continue
				}
				if rec.Data == nil {
					rec.Data = make(map[string]any)
				}
				rec.Data[df.Name] = value
			}
			for _, view := range reg.ReadLinks(tag, entry.Node) {
				if len(view.Targets) == 0 {
					continue
				}
				if rec.Links == nil {
					rec.Links = make(map[string][]uint64)
				}
				targets := make([]uint64, len(view.Targets))
				for i, t := range view.Targets {
					targets[i] = uint64(t)
				}
				rec.Links[view.Field] = targets
			}
			doc.Nodes = append(doc.Nodes, rec)
		}
	}

	raw, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot payload: %w", err)
	}

	sum := blake2b.Sum256(raw)
	snap := &Snapshot{
		Manifest: Manifest{
			FormatVersion: FormatVersion,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
			ContextTag:    g.Context().Tag(),
			ContextSeq:    g.Context().Sequence(),
			Nodes:         len(doc.Nodes),
			Checksum:      hex.EncodeToString(sum[:]),
		},
		Payload: raw,
	}
	log.Debug("exported snapshot", map[string]any{
		"nodes":    snap.Manifest.Nodes,
		"checksum": snap.Manifest.Checksum[:8],
	})
	return snap, nil
}

// Verify recomputes the payload checksum against the manifest.
func (s *Snapshot) Verify() error {
	if s.Manifest.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported snapshot format version %d", s.Manifest.FormatVersion)
	}
	sum := blake2b.Sum256(s.Payload)
	if got := hex.EncodeToString(sum[:]); got != s.Manifest.Checksum {
		return fmt.Errorf("snapshot checksum mismatch: manifest %s, payload %s", s.Manifest.Checksum, got)
	}
	return nil
}

// Restore rebuilds a graph from a snapshot against the given registry. The
// payload checksum is verified first; the returned graph is bound to a
// Context resurrected at the persisted tag and counter, so identifiers keep
// validating and fresh allocations never collide with loaded ones.
func Restore(s *Snapshot, reg *graph.Registry, opts ...graph.Option) (*graph.Graph, error) {
	if err := s.Verify(); err != nil {
		return nil, err
	}

	var doc payload
	if err := json.Unmarshal(s.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot payload: %w", err)
	}

	ctx, err := graph.NewContextAt(s.Manifest.ContextTag, s.Manifest.ContextSeq)
	if err != nil {
		return nil, err
	}

	entries := make([]graph.RestoreEntry, 0, len(doc.Nodes))
	for _, rec := range doc.Nodes {
		tag := graph.VariantTag(rec.Variant)
		spec, ok := reg.Variant(tag)
		if !ok {
			return nil, fmt.Errorf("snapshot node %d: %s: %w", rec.ID, tag, graph.ErrUnknownVariant)
		}
		node := spec.New()

		for _, df := range spec.Data {
			raw, present := rec.Data[df.Name]
			if !present {
				continue
			}
			value, err := coerce(raw, df.Type)
			if err != nil {
				return nil, fmt.Errorf("snapshot node %d data %s: %w", rec.ID, df.Name, err)
			}
			if !reg.WriteData(tag, node, df.Name, df.Type, value) {
				return nil, fmt.Errorf("snapshot node %d data %s: field is not writable", rec.ID, df.Name)
			}
		}
		for field, targets := range rec.Links {
			for _, t := range targets {
				if err := reg.BindLink(tag, node, field, graph.NodeID(t)); err != nil {
					return nil, fmt.Errorf("snapshot node %d: %w", rec.ID, err)
				}
			}
		}
		entries = append(entries, graph.RestoreEntry{
			ID:      graph.NodeID(rec.ID),
			Variant: tag,
			Node:    node,
		})
	}

	return graph.Restore(ctx, reg, entries, opts...)
}

// coerce maps a JSON-decoded scalar onto the declared type tag. JSON
// deserializes every number as float64, so integers are accepted when they
// are whole.
func coerce(value any, tag graph.TypeTag) (any, error) {
	switch tag {
	case graph.TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case graph.TypeInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		}
	case graph.TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
	case graph.TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not fit %s", value, value, tag)
}

// manifestName and payloadName are the on-disk file names for a snapshot.
func manifestName(name string) string { return name + ".manifest.yaml" }
func payloadName(name string) string  { return name + ".snapshot.json" }

// WriteFiles stores the snapshot as <name>.snapshot.json plus
// <name>.manifest.yaml under dir.
func (s *Snapshot) WriteFiles(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	manifest, err := yaml.Marshal(&s.Manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, payloadName(name)), s.Payload, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName(name)), manifest, 0o644)
}

// ReadFiles loads a snapshot previously stored with WriteFiles.
func ReadFiles(dir, name string) (*Snapshot, error) {
	manifest, err := os.ReadFile(filepath.Join(dir, manifestName(name)))
	if err != nil {
		return nil, err
	}
	payloadRaw, err := os.ReadFile(filepath.Join(dir, payloadName(name)))
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := yaml.Unmarshal(manifest, &s.Manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	s.Payload = payloadRaw
	return &s, nil
}
