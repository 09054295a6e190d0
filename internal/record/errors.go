package record

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRecord  = errors.New("malformed record")
	ErrTruncatedRecord  = fmt.Errorf("%w: trailing partial record", ErrMalformedRecord)
	ErrDomainViolation  = errors.New("value outside encodable domain")
	ErrEncodingOverflow = errors.New("value overflows field width")
)
