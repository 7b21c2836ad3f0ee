package retry

import "strings"

// Kind buckets a failure for retry handling. Stale errors mean the signed
// transaction or its quote aged out and a rebuild with fresh data can still
// succeed; terminal errors will fail identically on every resend.
type Kind int

const (
	Retryable Kind = iota
	Stale
	Terminal
)

var staleMarkers = []string{
	"blockhash not found",
	"block height exceeded",
	"blockhashnotfound",
	"custom program error: 6000",
	"custom program error: 6001",
	"custom program error: 0x1770",
	"custom program error: 0x1771",
	"slippage tolerance exceeded",
}

var terminalMarkers = []string{
	"insufficient funds",
	"insufficient lamports",
	"invalid account data",
	"account does not exist",
	"accountnotfound",
	"constraint",
}

// Classify inspects err's message chain and maps it to a retry kind. Message
// matching is the only option here: RPC nodes flatten program errors into
// strings before they reach the client.
func Classify(err error) Kind {
	if err == nil {
		return Retryable
	}
	msg := strings.ToLower(err.Error())

	for _, marker := range staleMarkers {
		if strings.Contains(msg, marker) {
			return Stale
		}
	}
	for _, marker := range terminalMarkers {
		if strings.Contains(msg, marker) {
			return Terminal
		}
	}
	return Retryable
}

func IsStale(err error) bool    { return Classify(err) == Stale }
func IsTerminal(err error) bool { return Classify(err) == Terminal }
