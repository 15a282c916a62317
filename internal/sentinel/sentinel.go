package sentinel

var _ error = Error("")

// Error is a string-backed error. Being a comparable non-pointer type it can
// be declared as a const and still matched with errors.Is through %w chains.
type Error string

func (e Error) Error() string {
	return string(e)
}
