package fixnet

type errGeneric uint8

// Generic errors common to internet functioning.
const (
	_                     errGeneric = iota // non-initialized err
	ErrPacketDrop                           // packet dropped
	ErrBadCRC                               // incorrect checksum
	ErrShortBuffer                          // short buffer
	ErrInvalidLengthField                   // invalid length field
	ErrInvalidField                         // invalid field
	ErrZeroSource                           // zero source
	ErrZeroDestination                      // zero destination
	ErrInvalidConfig                        // invalid configuration
	ErrExhausted                            // resource exhausted
	ErrTimeout                              // timeout
	ErrUnresolved                           // address not yet resolved
	ErrConnReset                            // connection reset
	ErrTableFull                            // connection table full
	ErrPortInUse                            // port in use
	ErrMismatch                             // mismatch
)

var errGenericStrings = [...]string{
	ErrPacketDrop:         "packet dropped",
	ErrBadCRC:             "incorrect checksum",
	ErrShortBuffer:        "short buffer",
	ErrInvalidLengthField: "invalid length field",
	ErrInvalidField:       "invalid field",
	ErrZeroSource:         "zero source",
	ErrZeroDestination:    "zero destination",
	ErrInvalidConfig:      "invalid configuration",
	ErrExhausted:          "resource exhausted",
	ErrTimeout:            "timeout",
	ErrUnresolved:         "address not yet resolved",
	ErrConnReset:          "connection reset",
	ErrTableFull:          "connection table full",
	ErrPortInUse:          "port in use",
	ErrMismatch:           "mismatch",
}

func (err errGeneric) String() string {
	if int(err) >= len(errGenericStrings) || err == 0 {
		return "errGeneric(?)"
	}
	return errGenericStrings[err]
}

func (err errGeneric) Error() string {
	return err.String()
}

// Timeout reports whether the error is [ErrTimeout], making it usable
// where callers check for net.Error style timeouts.
func (err errGeneric) Timeout() bool { return err == ErrTimeout }
