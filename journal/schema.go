package journal

const Schema = `
CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	instrument TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	ma_type TEXT NOT NULL,
	ma_length INTEGER NOT NULL,
	close REAL NOT NULL,
	ma_value REAL NOT NULL,
	avg_cost REAL NOT NULL,
	distance_pct REAL NOT NULL,
	decision TEXT NOT NULL,
	reason TEXT NOT NULL,
	action_prepared INTEGER NOT NULL,
	action_executed INTEGER NOT NULL,
	order_id TEXT NOT NULL,
	error TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts);
CREATE INDEX IF NOT EXISTS idx_signals_instrument ON signals(instrument);
`
