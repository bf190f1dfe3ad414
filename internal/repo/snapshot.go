package repo

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// SnapshotRepo appends opaque documents to the per-feed tables. Rows are
// never updated or deleted.
type SnapshotRepo interface {
	// Append writes one (ts, doc) row to the feed's table.
	Append(ctx context.Context, feed domain.Feed, doc domain.SnapshotDocument) error

	// AppendMany writes all docs to the feed's table with COPY.
	AppendMany(ctx context.Context, feed domain.Feed, docs []domain.SnapshotDocument) (int64, error)

	// Count returns the number of rows in the feed's table.
	Count(ctx context.Context, feed domain.Feed) (int64, error)
}

type pgSnapshotRepo struct {
	db db
}

// NewSnapshotRepo constructs a SnapshotRepo backed by the provided db connection.
func NewSnapshotRepo(db db) SnapshotRepo {
	return &pgSnapshotRepo{db: db}
}

// table resolves a feed to its raw-schema table. Only provisioned tables are
// accepted, since the name ends up in SQL text.
func table(feed domain.Feed) (pgx.Identifier, error) {
	known := slices.ContainsFunc(domain.DocumentFeeds(), func(f domain.Feed) bool {
		return f.Table == feed.Table
	})
	if !known {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFeed, feed.Table)
	}
	return pgx.Identifier{"raw", feed.Table}, nil
}

func (r *pgSnapshotRepo) Append(ctx context.Context, feed domain.Feed, doc domain.SnapshotDocument) error {
	ident, err := table(feed)
	if err != nil {
		return fmt.Errorf("repo.SnapshotRepo.Append: %w", err)
	}

	q := `INSERT INTO ` + ident.Sanitize() + ` (ts, doc) VALUES (@ts, @doc)`
	args := pgx.NamedArgs{
		"ts":  doc.TS.UTC(),
		"doc": string(doc.Doc),
	}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("repo.SnapshotRepo.Append: %s: %w", feed.Table, err)
	}
	return nil
}

func (r *pgSnapshotRepo) AppendMany(ctx context.Context, feed domain.Feed, docs []domain.SnapshotDocument) (int64, error) {
	ident, err := table(feed)
	if err != nil {
		return 0, fmt.Errorf("repo.SnapshotRepo.AppendMany: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	n, err := r.db.CopyFrom(ctx, ident, []string{"ts", "doc"},
		pgx.CopyFromSlice(len(docs), func(i int) ([]any, error) {
			return []any{docs[i].TS.UTC(), string(docs[i].Doc)}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("repo.SnapshotRepo.AppendMany: %s: %w", feed.Table, err)
	}
	return n, nil
}

func (r *pgSnapshotRepo) Count(ctx context.Context, feed domain.Feed) (int64, error) {
	ident, err := table(feed)
	if err != nil {
		return 0, fmt.Errorf("repo.SnapshotRepo.Count: %w", err)
	}
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM `+ident.Sanitize()).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo.SnapshotRepo.Count: %s: %w", feed.Table, err)
	}
	return n, nil
}
