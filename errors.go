package pktwire

type errGeneric uint8

// Generic errors common to packet building and parsing.
const (
	_                errGeneric = iota // non-initialized err
	ErrShortBuffer                     // short buffer
	ErrBadCRC                          // incorrect checksum
	ErrFieldOverflow                   // field value overflows its width
	ErrAddrFamily                      // wrong address family
)

func (err errGeneric) Error() string {
	switch err {
	case ErrShortBuffer:
		return "short buffer"
	case ErrBadCRC:
		return "incorrect checksum"
	case ErrFieldOverflow:
		return "field value overflows its width"
	case ErrAddrFamily:
		return "wrong address family"
	}
	return "non-initialized err"
}
