// Package stores keeps the run history of manifold in SQLite.
// Each apply or plan is a run; the atoms it processed and the events it
// published are stored alongside it and deleted with it. The schema is
// managed by embedded golang-migrate migrations.
package stores
