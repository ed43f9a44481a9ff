// pkg/model/tables.go
package model

// Durable pipeline tables
const (
	TableClean          = "clean"
	TableQuarantine     = "quarantine"
	TableRedacted       = "redacted"
	TableCleanProcessed = "clean_processed"
)

// PropertyMayContainPII is the table property stating whether a table may
// hold values that failed their column's constraint
const PropertyMayContainPII = "may_contain_pii"

// MayContainPII returns the property value each pipeline table is created
// with. Only clean_processed is ever changed afterwards.
func MayContainPII(table string) string {
	switch table {
	case TableQuarantine:
		return "true"
	case TableClean, TableRedacted, TableCleanProcessed:
		return "false"
	default:
		return "true"
	}
}
