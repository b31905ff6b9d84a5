package state

// funding_request stores the life cycle of one funding request.
// Outpoints and the proof ride along as blobs; hot columns get their own
// typed fields so hosts can query on them.
var fundingRequestTable = `CREATE TABLE IF NOT EXISTS funding_request (
	request_id TEXT PRIMARY KEY NOT NULL,
	target_amount BIGINT NOT NULL,
	beneficiary_key TEXT NOT NULL,
	status VARCHAR(16) NOT NULL,
	outpoints BLOB,
	txid CHAR(64),
	output_index INTEGER NOT NULL DEFAULT 0,
	proof BLOB,
	failure_reason TEXT NOT NULL DEFAULT '',
	abandoned BOOLEAN NOT NULL DEFAULT 0,
	retryable BOOLEAN NOT NULL DEFAULT 1,
	broadcast_attempts INTEGER NOT NULL DEFAULT 0,
	lock_wait_attempts INTEGER NOT NULL DEFAULT 0,
	CONSTRAINT chk_status CHECK (status IN (
		'created', 'utxos_selected', 'signed', 'broadcast',
		'awaiting_lock', 'locked', 'proof_ready',
		'funded', 'failed', 'timed_out')),
	CONSTRAINT chk_target_amount CHECK (target_amount > 0),
	CONSTRAINT chk_request_id CHECK (request_id != ''),
	CONSTRAINT chk_beneficiary_key CHECK (beneficiary_key != '')
);
CREATE INDEX IF NOT EXISTS idx_funding_request_status ON funding_request (status);`

const fundingRequestColumns = ` request_id, target_amount, beneficiary_key, status,
	outpoints, txid, output_index, proof, failure_reason, abandoned,
	retryable, broadcast_attempts, lock_wait_attempts `
