// Package upgrade tracks schema compatibility between the binary and
// the database, and runs Go-side data hooks after SQL migrations.
package upgrade

// RequiredSchemaVersion is the migration version this binary expects.
// Bump together with new files under migrations/.
const RequiredSchemaVersion uint = 1
