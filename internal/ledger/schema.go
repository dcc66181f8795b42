package ledger

// schema is valid for both sqlite and postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS definitions (
		run_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		subject_id INTEGER NOT NULL,
		experiment_id INTEGER NOT NULL,
		random_seed BIGINT NOT NULL,
		trials_per_class INTEGER NOT NULL,
		total_trials INTEGER NOT NULL,
		version TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		UNIQUE (subject_id, experiment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS trials (
		run_id TEXT NOT NULL REFERENCES definitions(run_id),
		trial_id INTEGER NOT NULL,
		image_name TEXT NOT NULL,
		category TEXT NOT NULL,
		full_image_name TEXT NOT NULL,
		PRIMARY KEY (run_id, trial_id)
	)`,
	`CREATE INDEX IF NOT EXISTS trials_full_image_name ON trials (full_image_name)`,
}
