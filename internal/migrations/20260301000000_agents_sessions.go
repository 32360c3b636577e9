package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/gatehouse/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260301000000, down_20260301000000)
}

// up_20260301000000 creates the agents and sessions tables.
func up_20260301000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating agents table...")
	if _, err := db.NewCreateTable().
		Model((*models.Agent)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create agents table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating sessions table...")
	if _, err := db.NewCreateTable().
		Model((*models.Session)(nil)).
		IfNotExists().
		ForeignKey(`("agent_id") REFERENCES "agents" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*models.Session)(nil)).
		Index("idx_sessions_agent_id").
		Column("agent_id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sessions agent index: %w", err)
	}

	// Pruning scans by last use. last_utilised grows with insertion order, so
	// PostgreSQL gets a compact BRIN index.
	if IsPostgreSQL(db) {
		_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_last_utilised ON sessions USING brin (last_utilised)`)
		if err != nil {
			return fmt.Errorf("failed to create BRIN index on last_utilised: %w", err)
		}
	} else {
		_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_last_utilised ON sessions(last_utilised)`)
		if err != nil {
			return fmt.Errorf("failed to create index on last_utilised: %w", err)
		}
	}
	fmt.Println(" OK")

	return nil
}

func down_20260301000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping sessions table...")
	if _, err := db.NewDropTable().Model((*models.Session)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop sessions table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [down] dropping agents table...")
	if _, err := db.NewDropTable().Model((*models.Agent)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop agents table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
