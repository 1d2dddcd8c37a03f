package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built software's version.
	Version = BazaarSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// BazaarSemVer is the semantic version of the bazaar binaries.
	// Must be a string because scripts like dist.sh read this file.
	BazaarSemVer = "0.3.0"
)

// Protocol versions the messages exchanged on the bus. Participants and the
// ledger only interoperate within one protocol version.
type Protocol uint64

// Uint64 returns the Protocol version as a uint64.
func (p Protocol) Uint64() uint64 {
	return uint64(p)
}

// MessageProtocol versions the message catalog and its wire format.
const MessageProtocol Protocol = 1
