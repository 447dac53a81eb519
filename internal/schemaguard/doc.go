// Package schemaguard enforces bounded-context schema ownership over raw
// SQL text.
//
// The guard performs a conservative lexical scan, not SQL parsing: it
// strips string literals and comments, then checks every schema-qualified
// reference (ident.ident) whose prefix names a known schema against the
// calling context's allow-list. Unqualified identifiers and unknown
// prefixes (table aliases, column refs) are not checked. References
// smuggled through dynamically assembled SQL are caught only when
// lexically visible.
//
// Denial is fail-closed: callers must not execute a query the guard
// rejected.
package schemaguard
