package grid

import (
	"errors"

	"libprep/api/internal/columns"
)

var (
	ErrRowOutOfRange       = errors.New("row index out of range")
	ErrPoolOutOfRange      = errors.New("pool index out of range")
	ErrEmptyPool           = errors.New("select at least one sample to pool")
	ErrOverlappingPool     = errors.New("sample already belongs to a pool")
	ErrPoolingBusy         = errors.New("a pool number is already being issued")
	ErrNotPoolField        = errors.New("field is not a pool field")
	ErrNotEditable         = errors.New("field is not editable in this group")
	ErrMalformedClipboard  = errors.New("clipboard rows have different column counts")
	ErrBulkFillUnavailable = errors.New("bulk fill needs more than one selected cell")
	ErrGroupChanged        = errors.New("workflow group changed while the pool number was issued")
	ErrClosed              = errors.New("editor closed")
	ErrNoIssuer            = errors.New("no pool number issuer configured")
	ErrUnknownEvent        = errors.New("unknown grid event")

	// ErrNoColumns is returned when the active group has no column policy.
	ErrNoColumns = columns.ErrNoColumns
)

