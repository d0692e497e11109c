package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meshkit/digimesh/internal/domain"
)

// PeerRepo stores the peers produced by discovery runs. Addresses are kept
// in the canonical "!<hex>" text form so the table is greppable with the
// same notation logs use.
type PeerRepo struct {
	db *sql.DB
}

func NewPeerRepo(db *sql.DB) *PeerRepo {
	return &PeerRepo{db: db}
}

func (r *PeerRepo) Upsert(ctx context.Context, p domain.RemotePeer) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO peers(addr, node_id, discovered_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(addr) DO UPDATE SET
			node_id = excluded.node_id,
			discovered_at = excluded.discovered_at,
			updated_at = excluded.updated_at
	`, domain.FormatAddr(p.Addr), p.NodeID, toUnixMillis(p.DiscoveredAt), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}
	return nil
}

// ReplaceAll mirrors discovery semantics: a successful run fully replaces
// the stored peer set.
func (r *PeerRepo) ReplaceAll(ctx context.Context, peers []domain.RemotePeer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace peers tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM peers;`); err != nil {
		return fmt.Errorf("clear peers: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, p := range peers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO peers(addr, node_id, discovered_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, domain.FormatAddr(p.Addr), p.NodeID, toUnixMillis(p.DiscoveredAt), now); err != nil {
			return fmt.Errorf("insert peer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace peers tx: %w", err)
	}
	return nil
}

func (r *PeerRepo) ListSortedByDiscoveredAt(ctx context.Context) ([]domain.RemotePeer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT addr, node_id, discovered_at
		FROM peers
		ORDER BY discovered_at DESC, addr ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var out []domain.RemotePeer
	for rows.Next() {
		var (
			addrText     string
			nodeID       sql.NullString
			discoveredMs int64
		)
		if err := rows.Scan(&addrText, &nodeID, &discoveredMs); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		addr, err := domain.ParseAddr(addrText)
		if err != nil {
			return nil, fmt.Errorf("parse stored peer address %q: %w", addrText, err)
		}
		out = append(out, domain.RemotePeer{
			Addr:         addr,
			NodeID:       nodeID.String,
			DiscoveredAt: fromUnixMillis(discoveredMs),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}

	return out, nil
}

func ClearDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM peers;`); err != nil {
		return fmt.Errorf("clear peers table: %w", err)
	}
	return nil
}
