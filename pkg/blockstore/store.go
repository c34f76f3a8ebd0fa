// Package blockstore implements the local durable store of CBOR-encoded,
// content-addressed blocks with pinning and mark-and-sweep GC (spec §4.2).
package blockstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/edgemesh/axcore/pkg/database"
	"github.com/google/uuid"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound is returned by Get when no block exists for the given CID.
var ErrNotFound = errors.New("blockstore: block not found")

// Store is a content-addressed block store backed by an embedded SQLite
// database, synchronous writes, WAL-enabled (spec §4.2 "Durability").
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	tempPins map[string]map[CID]struct{} // pin handle -> pinned cids
}

// Open opens or creates the block store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := database.Open(ctx, path, migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("blockstore: %w", err)
	}
	return &Store{db: db, tempPins: make(map[string]map[CID]struct{})}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores data, returning its CID. Writes are idempotent: storing the
// same content twice is a no-op the second time (spec invariant 4: a
// block's identifier equals the hash of its content).
func (s *Store) Put(ctx context.Context, data []byte) (CID, error) {
	cid := Sum(data)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (cid, data) VALUES (?, ?) ON CONFLICT(cid) DO NOTHING`,
		cid.String(), data)
	if err != nil {
		return CID{}, fmt.Errorf("blockstore: put: %w", err)
	}
	return cid, nil
}

// Get retrieves the bytes for cid, or ErrNotFound.
func (s *Store) Get(ctx context.Context, cid CID) ([]byte, error) {
	var data []byte
	row := s.db.QueryRowContext(ctx, `SELECT data FROM blocks WHERE cid = ?`, cid.String())
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blockstore: get: %w", err)
	}
	return data, nil
}

// Has reports whether cid is locally resolvable without fetching its bytes.
func (s *Store) Has(ctx context.Context, cid CID) (bool, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE cid = ?`, cid.String())
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("blockstore: has: %w", err)
	}
	return n > 0, nil
}

// PutBlob stores an opaque application blob keyed by its own CID (spec
// §3.4 supplement, grounded on rust/actyx/swarm/src/blob_store.rs).
func (s *Store) PutBlob(ctx context.Context, data []byte) (CID, error) {
	cid := Sum(data)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (cid, data) VALUES (?, ?) ON CONFLICT(cid) DO NOTHING`,
		cid.String(), data)
	if err != nil {
		return CID{}, fmt.Errorf("blockstore: put blob: %w", err)
	}
	return cid, nil
}

// GetBlob retrieves a previously stored application blob.
func (s *Store) GetBlob(ctx context.Context, cid CID) ([]byte, error) {
	var data []byte
	row := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE cid = ?`, cid.String())
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blockstore: get blob: %w", err)
	}
	return data, nil
}

// TempPin is an in-process handle keeping a set of blocks alive. It is
// dropped (and its pins released) by calling Drop — there is no finalizer,
// matching the spec's "dropped when it goes out of scope" as an explicit
// lifecycle the owning goroutine manages.
type TempPin struct {
	store  *Store
	handle string
}

// CreateTempPin allocates a new temporary pin handle.
func (s *Store) CreateTempPin() *TempPin {
	handle := uuid.NewString()
	s.mu.Lock()
	s.tempPins[handle] = make(map[CID]struct{})
	s.mu.Unlock()
	return &TempPin{store: s, handle: handle}
}

// Pin adds cid to the set of blocks this temp pin keeps alive.
func (p *TempPin) Pin(cid CID) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	set, ok := p.store.tempPins[p.handle]
	if !ok {
		return // already dropped
	}
	set[cid] = struct{}{}
}

// Drop releases every block this temp pin was keeping alive.
func (p *TempPin) Drop() {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	delete(p.store.tempPins, p.handle)
}

// PersistentPin pins cid under a stable label (e.g. a stream id), surviving
// restart. Re-pinning an existing label replaces its target.
func (s *Store) PersistentPin(ctx context.Context, label string, cid CID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pins (label, cid) VALUES (?, ?)
		 ON CONFLICT(label) DO UPDATE SET cid = excluded.cid`,
		label, cid.String())
	if err != nil {
		return fmt.Errorf("blockstore: persistent pin: %w", err)
	}
	return nil
}

// Unpin removes a persistent pin by label.
func (s *Store) Unpin(ctx context.Context, label string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pins WHERE label = ?`, label)
	if err != nil {
		return fmt.Errorf("blockstore: unpin: %w", err)
	}
	return nil
}

// PersistentPins returns every currently pinned (label, cid) pair, used on
// startup to re-validate the pin set against the block table.
func (s *Store) PersistentPins(ctx context.Context) (map[string]CID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, cid FROM pins`)
	if err != nil {
		return nil, fmt.Errorf("blockstore: list pins: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CID)
	for rows.Next() {
		var label, cidStr string
		if err := rows.Scan(&label, &cidStr); err != nil {
			return nil, fmt.Errorf("blockstore: scan pin: %w", err)
		}
		cid, err := ParseCID(cidStr)
		if err != nil {
			return nil, fmt.Errorf("blockstore: corrupt pin %q: %w", label, err)
		}
		out[label] = cid
	}
	return out, rows.Err()
}

// ChildrenFunc extracts the block references a decoded block points to
// (e.g. a Banyan branch's child CIDs). GC uses it to walk reachability
// without depending on the tree package's types.
type ChildrenFunc func(data []byte) ([]CID, error)

// GC performs mark-and-sweep: every block reachable from a live pin
// (persistent or temporary) is kept; everything else is deleted. A block
// must not be evicted while reachable from at least one live pin (spec
// §4.2 "Pinning contract").
func (s *Store) GC(ctx context.Context, children ChildrenFunc) (removed int, err error) {
	roots, err := s.liveRoots(ctx)
	if err != nil {
		return 0, err
	}

	reachable := make(map[CID]struct{}, len(roots))
	queue := append([]CID(nil), roots...)
	for len(queue) > 0 {
		cid := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, seen := reachable[cid]; seen {
			continue
		}
		reachable[cid] = struct{}{}

		data, getErr := s.Get(ctx, cid)
		if getErr != nil {
			if errors.Is(getErr, ErrNotFound) {
				continue
			}
			return 0, getErr
		}
		kids, childErr := children(data)
		if childErr != nil {
			return 0, fmt.Errorf("blockstore: gc: decode children of %s: %w", cid, childErr)
		}
		queue = append(queue, kids...)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT cid FROM blocks`)
	if err != nil {
		return 0, fmt.Errorf("blockstore: gc: list blocks: %w", err)
	}
	var toDelete []string
	for rows.Next() {
		var cidStr string
		if err := rows.Scan(&cidStr); err != nil {
			rows.Close()
			return 0, fmt.Errorf("blockstore: gc: scan: %w", err)
		}
		cid, parseErr := ParseCID(cidStr)
		if parseErr != nil {
			continue
		}
		if _, ok := reachable[cid]; !ok {
			toDelete = append(toDelete, cidStr)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, cidStr := range toDelete {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE cid = ?`, cidStr); err != nil {
			return 0, fmt.Errorf("blockstore: gc: delete %s: %w", cidStr, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) liveRoots(ctx context.Context) ([]CID, error) {
	pins, err := s.PersistentPins(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CID, 0, len(pins))
	for _, cid := range pins {
		out = append(out, cid)
	}

	s.mu.Lock()
	for _, set := range s.tempPins {
		for cid := range set {
			out = append(out, cid)
		}
	}
	s.mu.Unlock()
	return out, nil
}
