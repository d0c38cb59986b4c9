package hubpoolpg

const schemaSQL = `
CREATE TABLE IF NOT EXISTS running_balances (
	l1_token TEXT NOT NULL,
	chain_id BIGINT NOT NULL,
	block BIGINT NOT NULL,
	balance TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	PRIMARY KEY (l1_token, chain_id, block)
);

CREATE INDEX IF NOT EXISTS running_balances_lookup_idx
	ON running_balances (l1_token, chain_id, block DESC);

CREATE TABLE IF NOT EXISTS root_bundles (
	id BIGSERIAL PRIMARY KEY,
	l1_token TEXT NOT NULL,
	end_block_for_chain JSONB NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS root_bundles_l1_token_idx
	ON root_bundles (l1_token, id DESC);
`
