package tcp

import (
	"encoding/binary"
	"strconv"

	"github.com/soypat/pktwire/tlv"
)

// OptionCodec decodes and encodes TCP options. The length byte counts the whole
// record and End of List and No-Operation are single byte records.
var OptionCodec = tlv.Codec{
	LengthIsTotal: true,
	SkipTypes:     []uint8{uint8(OptEnd), uint8(OptNop)},
}

type OptionKind uint8

const (
	OptEnd                   OptionKind = iota // end of option list
	OptNop                                     // no-operation
	OptMaxSegmentSize                          // maximum segment size
	OptWindowScale                             // window scale
	OptSACKPermitted                           // SACK permitted
	OptSACK                                    // SACK
	OptEcho                                    // echo(obsolete)
	optEchoReply                               // echo reply(obsolete)
	OptTimestamps                              // timestamps
	optPOCP                                    // partial order connection permitted(obsolete)
	optPOSP                                    // partial order service profile(obsolete)
	optCC                                      // CC(obsolete)
	optCCnew                                   // CC.new(obsolete)
	optCCecho                                  // CC.echo(obsolete)
	optACR                                     // alternate checksum request(obsolete)
	optACD                                     // alternate checksum data(obsolete)
	optSkeeter                                 // skeeter
	optBubba                                   // bubba
	OptTrailerChecksum                         // trailer checksum
	optMD5Signature                            // MD5 signature(obsolete)
	OptSCPSCapabilities                        // SCPS capabilities
	OptSNA                                     // selective negative acks
	OptRecordBoundaries                        // record boundaries
	OptCorruptionExperienced                   // corruption experienced
	OptSNAP                                    // SNAP
	OptUnassigned                              // unassigned
	OptCompressionFilter                       // compression filter
	OptQuickStartResponse                      // quick-start response
	OptUserTimeout                             // user timeout or unauthorized use
	OptAuthetication                           // Authentication TCP-AO
	OptMultipath                               // multipath TCP
)

const (
	OptFastOpenCookie        OptionKind = 34  // fast open cookie
	OptEncryptionNegotiation OptionKind = 69  // encryption negotiation
	OptAccurateECN0          OptionKind = 172 // accurate ECN order 0
	OptAccurateECN1          OptionKind = 174 // accurate ECN order 1
)

var optionNames = [...]string{
	"end of option list", "no-operation", "maximum segment size", "window scale",
	"SACK permitted", "SACK", "echo(obsolete)", "echo reply(obsolete)", "timestamps",
	"partial order connection permitted(obsolete)", "partial order service profile(obsolete)",
	"CC(obsolete)", "CC.new(obsolete)", "CC.echo(obsolete)", "alternate checksum request(obsolete)",
	"alternate checksum data(obsolete)", "skeeter", "bubba", "trailer checksum",
	"MD5 signature(obsolete)", "SCPS capabilities", "selective negative acks",
	"record boundaries", "corruption experienced", "SNAP", "unassigned", "compression filter",
	"quick-start response", "user timeout or unauthorized use", "Authentication TCP-AO",
	"multipath TCP",
}

func (kind OptionKind) String() string {
	switch {
	case int(kind) < len(optionNames):
		return optionNames[kind]
	case kind == OptFastOpenCookie:
		return "fast open cookie"
	case kind == OptEncryptionNegotiation:
		return "encryption negotiation"
	case kind == OptAccurateECN0:
		return "accurate ECN order 0"
	case kind == OptAccurateECN1:
		return "accurate ECN order 1"
	}
	return "OptionKind(" + strconv.Itoa(int(kind)) + ")"
}

// IsObsolete returns true if option considered obsolete by newer TCP specifications.
func (kind OptionKind) IsObsolete() bool {
	switch kind {
	case OptEcho, optEchoReply, optPOCP, optPOSP, optCC, optCCnew, optCCecho, optACR, optACD, optMD5Signature:
		return true
	}
	return false
}

// IsDefined returns true if the option is a known unreserved option kind.
func (kind OptionKind) IsDefined() bool {
	return kind <= 30 || kind == 34 || kind == 69 || kind == 172 || kind == 174
}

// expectedSize returns the fixed record size of kind, or -1 if the kind is variable sized.
func (kind OptionKind) expectedSize() int {
	switch kind {
	case OptTimestamps:
		return 10
	case OptMaxSegmentSize, OptUserTimeout:
		return 4
	case OptWindowScale:
		return 3
	case OptSACKPermitted:
		return 2
	}
	return -1
}

// ValidateOptions checks records of fixed size kinds have the size RFC 9293 requires.
func ValidateOptions(opts []tlv.Option) error {
	if err := OptionCodec.Validate(opts); err != nil {
		return err
	}
	for _, opt := range opts {
		expect := OptionKind(opt.Type).expectedSize()
		if expect != -1 && 2+len(opt.Value) != expect {
			return errBadOptionSize
		}
	}
	return nil
}

// Option16 returns an option record carrying a 16 bit value, i.e: maximum segment size.
func Option16(kind OptionKind, v uint16) tlv.Option {
	return tlv.Option{Type: uint8(kind), Length: 4, Value: binary.BigEndian.AppendUint16(nil, v)}
}

// OptionTimestamps returns a timestamps option record.
func OptionTimestamps(tsval, tsecr uint32) tlv.Option {
	v := binary.BigEndian.AppendUint32(make([]byte, 0, 8), tsval)
	return tlv.Option{Type: uint8(OptTimestamps), Length: 10, Value: binary.BigEndian.AppendUint32(v, tsecr)}
}
