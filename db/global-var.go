package db

const (
	ConstLayoutDate = `2006-01-02`

	maxRetries = 3
)

// Driver error codes the ledger reacts to.
const (
	mysqlDuplicateKeyName = 1061
	mysqlDuplicateEntry   = 1062

	pqUniqueViolation = "23505"
	pqDuplicateTable  = "42P07"
)
