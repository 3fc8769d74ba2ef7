// Package snapshot - BadgerDB-backed snapshot store.
package snapshot

import (
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"gopkg.in/yaml.v3"

	"github.com/askrdb/askr/pkg/log"
)

// Key prefixes for badger storage organization. Single-byte prefixes, one
// per record kind.
const (
	prefixManifest = byte(0x01) // manifest:<name> -> YAML(Manifest)
	prefixPayload  = byte(0x02) // payload:<name>  -> JSON payload
)

// Store keeps named snapshots in a BadgerDB database, manifest and payload
// as separate records under single-byte key prefixes. Load verifies the
// payload checksum against the stored manifest, so on-disk corruption
// surfaces as an error rather than a half-restored graph.
//
// Example:
//
//	store, err := snapshot.OpenStore(snapshot.StoreOptions{Dir: dir})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	snap, _ := snapshot.Export(g)
//	if err := store.Save("scene", snap); err != nil {
//		return err
//	}
type Store struct {
	db *badger.DB
}

// StoreOptions configures a snapshot store.
type StoreOptions struct {
	// Dir is the badger database directory. Required unless InMemory.
	Dir string

	// InMemory runs badger without touching disk. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower, more durable.
	SyncWrites bool
}

// OpenStore opens (creating if needed) a snapshot store.
func OpenStore(opts StoreOptions) (*Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("snapshot store requires a directory")
		}
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites).WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

func storeKey(prefix byte, name string) []byte {
	key := make([]byte, 0, len(name)+1)
	key = append(key, prefix)
	return append(key, name...)
}

// Save writes a snapshot under the given name, overwriting any previous
// snapshot with that name. Manifest and payload land in one badger
// transaction.
func (s *Store) Save(name string, snap *Snapshot) error {
	if name == "" {
		return fmt.Errorf("snapshot name must not be empty")
	}
	manifest, err := yaml.Marshal(&snap.Manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(storeKey(prefixManifest, name), manifest); err != nil {
			return err
		}
		return txn.Set(storeKey(prefixPayload, name), snap.Payload)
	})
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", name, err)
	}
	log.Info("snapshot saved", map[string]any{"name": name, "nodes": snap.Manifest.Nodes})
	return nil
}

// Load reads and verifies the named snapshot.
func (s *Store) Load(name string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(prefixManifest, name))
		if err != nil {
			return err
		}
		manifest, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(manifest, &snap.Manifest); err != nil {
			return fmt.Errorf("decoding manifest: %w", err)
		}

		item, err = txn.Get(storeKey(prefixPayload, name))
		if err != nil {
			return err
		}
		snap.Payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", name, err)
	}
	if err := snap.Verify(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return &snap, nil
}

// List returns the stored snapshot names, sorted.
func (s *Store) List() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixManifest}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[1:]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named snapshot. Deleting an absent name is an error.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(storeKey(prefixManifest, name)); err != nil {
			return fmt.Errorf("deleting snapshot %s: %w", name, err)
		}
		if err := txn.Delete(storeKey(prefixManifest, name)); err != nil {
			return err
		}
		return txn.Delete(storeKey(prefixPayload, name))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
