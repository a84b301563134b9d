package grpcoracle

import (
	"fmt"
	"strconv"
	"strings"

	"xdao.co/sealvault/chain"
)

// EncodeStatus renders a status in its wire form: "unconfirmed",
// "not-found", or "confirmed:<depth>".
func EncodeStatus(st chain.Status) (string, error) {
	switch st.State {
	case chain.StateUnconfirmed:
		return string(chain.StateUnconfirmed), nil
	case chain.StateNotFound:
		return string(chain.StateNotFound), nil
	case chain.StateConfirmed:
		return fmt.Sprintf("%s:%d", chain.StateConfirmed, st.Depth), nil
	default:
		return "", fmt.Errorf("grpcoracle: unknown state %q", st.State)
	}
}

// DecodeStatus parses the wire form produced by EncodeStatus.
func DecodeStatus(s string) (chain.Status, error) {
	switch {
	case s == string(chain.StateUnconfirmed):
		return chain.Status{State: chain.StateUnconfirmed}, nil
	case s == string(chain.StateNotFound):
		return chain.Status{State: chain.StateNotFound}, nil
	case strings.HasPrefix(s, string(chain.StateConfirmed)+":"):
		raw := strings.TrimPrefix(s, string(chain.StateConfirmed)+":")
		depth, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return chain.Status{}, fmt.Errorf("grpcoracle: bad depth %q", raw)
		}
		return chain.Status{State: chain.StateConfirmed, Depth: uint32(depth)}, nil
	default:
		return chain.Status{}, fmt.Errorf("grpcoracle: bad status %q", s)
	}
}
