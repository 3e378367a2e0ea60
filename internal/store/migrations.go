package store

// runMigrations executes all database migrations. The statements are valid for
// both SQLite and PostgreSQL.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per inspected board
		`CREATE TABLE IF NOT EXISTS inspections (
			id TEXT PRIMARY KEY,
			product_code TEXT NOT NULL DEFAULT '',
			serial TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL CHECK(decision IN ('normal', 'missing', 'position_error', 'discard')),
			code INTEGER NOT NULL,
			critical INTEGER NOT NULL DEFAULT 0,
			reasons TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			box INTEGER NOT NULL DEFAULT -1,
			slot INTEGER NOT NULL DEFAULT -1,
			report TEXT NOT NULL DEFAULT '{}',
			total_ms INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,

		// Per-side verification counts
		`CREATE TABLE IF NOT EXISTS inspection_sides (
			inspection_id TEXT NOT NULL REFERENCES inspections(id) ON DELETE CASCADE,
			side TEXT NOT NULL CHECK(side IN ('front', 'back')),
			matched INTEGER NOT NULL,
			misplaced INTEGER NOT NULL,
			missing INTEGER NOT NULL,
			extra INTEGER NOT NULL,
			PRIMARY KEY (inspection_id, side)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_inspections_product_code ON inspections(product_code)`,
		`CREATE INDEX IF NOT EXISTS idx_inspections_created_at ON inspections(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
