// cmd/piiredact/main.go

// piiredact classifies staging records against a rule catalog, quarantines
// the ones that fail, redacts them with a batch-wide projection and merges
// the result with the clean records into clean_processed.
//
// Usage:
//
//	# Process everything after the last checkpoint
//	piiredact run --input-path data/customers.csv --table-path tables --expectations-path rules.json
//
//	# Keep processing on a schedule and expose /metrics
//	piiredact run --schedule "*/5 * * * *" --metrics-addr :9102
//
//	# Show the projection derived from the quarantine table
//	piiredact plan
//
//	# Show the compiled expectations
//	piiredact rules
package main

func main() {
	Execute()
}
