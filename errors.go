// Package corefts is the root of the inverted-index search core: segment
// storage and merge, the boolean-retrieval query planner/VM, and the
// analysis/mapping pipeline. The facade lives in the store subpackage;
// this file only holds the error vocabulary shared across every
// subpackage.
package corefts

import "errors"

// Sentinel error kinds. Subpackages wrap these with fmt.Errorf("...: %w", ...)
// so callers compare with errors.Is rather than switching on strings.
var (
	// ErrBackend indicates the underlying KV store failed. Never swallowed.
	ErrBackend = errors.New("corefts: backend error")

	// ErrSegmentFull is returned by a SegmentBuilder when the next ord
	// would exceed the 65536-document hard cap. Recoverable: split the batch.
	ErrSegmentFull = errors.New("corefts: segment full")

	// ErrTooManyDocs is returned by a merge whose destination would exceed
	// the 65536-document cap. Recoverable: merge a smaller source set.
	ErrTooManyDocs = errors.New("corefts: merge exceeds segment capacity")

	// ErrSchemaConflict is returned by Schema.AddField when a field name is
	// reused with a different type or flag set.
	ErrSchemaConflict = errors.New("corefts: schema conflict")

	// ErrUnknownField marks a query or mapping reference to a field the
	// schema doesn't know. Store's query builders substitute an empty
	// query instead of failing; mapping and stored-field reads return it
	// to the caller.
	ErrUnknownField = errors.New("corefts: unknown field")

	// ErrUnknownTerm marks a planner reference to a term never interned.
	// Always recovered by substituting PushEmpty; never returned to a caller.
	ErrUnknownTerm = errors.New("corefts: unknown term")

	// ErrFieldValue indicates Mapping rejected an input value.
	ErrFieldValue = errors.New("corefts: unprocessable field value")

	// ErrDecode indicates a stored value's bytes were malformed on read.
	ErrDecode = errors.New("corefts: stored value decode error")

	// ErrClosed is returned by operations on a Store or Reader after Close.
	ErrClosed = errors.New("corefts: closed")

	// ErrNotFound names a missing record. The point lookups in this module
	// report absence with a boolean result and do not return it.
	ErrNotFound = errors.New("corefts: not found")
)
