package sbom

import "fmt"

// ParseError indicates content that looked like a supported format but could not be parsed.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sbom parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sbom parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedFormatError indicates content in a format this system does not recognize.
type UnsupportedFormatError struct {
	Hint string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported sbom format: %s", e.Hint)
}
