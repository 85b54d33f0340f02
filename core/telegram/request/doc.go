// Package request resolves per-update dependencies for bot handlers: a
// transactional database session, the sending user, dialogue state and the
// decoded callback payload. A handler declares what it needs; the resolver
// builds it before the handler body runs and releases it afterwards, so a
// handler never manages transactions or identity lookups itself.
package request
