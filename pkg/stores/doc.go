// Package stores opens and owns the process database. It provides the local
// SQLite database (WAL mode, embedded schema migrations), the libSQL
// embedded replica, and the Manager that chooses between them, retries the
// remote across URL variants and falls back to local when the remote never
// answers.
package stores
