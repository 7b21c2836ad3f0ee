package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	assert.Equal(t,
		`SELECT id FROM assets WHERE mint = $1 AND network = $2`,
		rebindPostgresPlaceholders(`SELECT id FROM assets WHERE mint = ? AND network = ?`),
	)

	// Question marks inside string literals stay untouched.
	assert.Equal(t,
		`INSERT INTO audit_history (description) VALUES ('what?') RETURNING $1`,
		rebindPostgresPlaceholders(`INSERT INTO audit_history (description) VALUES ('what?') RETURNING ?`),
	)

	// Escaped quotes do not end the literal early.
	assert.Equal(t,
		`SELECT 'it''s a ?', $1`,
		rebindPostgresPlaceholders(`SELECT 'it''s a ?', ?`),
	)
}
