package db

// PostgreSQL migrations

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_categories_table",
		Up: `
			CREATE TABLE IF NOT EXISTS categories (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT categories_name_user_id_key UNIQUE (name, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_categories_user_id ON categories(user_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_categories_user_id;
			DROP TABLE IF EXISTS categories;
		`,
	},
	{
		Version: 2,
		Name:    "create_links_table",
		Up: `
			CREATE TABLE IF NOT EXISTS links (
				id TEXT PRIMARY KEY,
				original_input TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				url TEXT,
				category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
				ai_description TEXT NOT NULL DEFAULT '',
				user_id TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_links_category_id ON links(category_id);
			CREATE INDEX IF NOT EXISTS idx_links_user_id_created_at ON links(user_id, created_at DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_links_user_id_created_at;
			DROP INDEX IF EXISTS idx_links_category_id;
			DROP TABLE IF EXISTS links;
		`,
	},
}
