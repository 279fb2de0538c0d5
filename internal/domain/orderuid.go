package domain

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OrderUIDLength: digest (32) + owner (20) + validTo (4).
const OrderUIDLength = 56

// OrderUID identifica un trade en ambos lados de una settlement.
type OrderUID [OrderUIDLength]byte

// BytesToOrderUID rellena b con ceros a la izquierda. Si sobra, se quedan los últimos 56 bytes.
func BytesToOrderUID(b []byte) OrderUID {
	var uid OrderUID
	if len(b) > OrderUIDLength {
		b = b[len(b)-OrderUIDLength:]
	}
	copy(uid[OrderUIDLength-len(b):], b)
	return uid
}

// ParseOrderUID decodifica un hex con prefijo 0x.
func ParseOrderUID(s string) (OrderUID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return OrderUID{}, fmt.Errorf("domain.ParseOrderUID: %q: %w", s, err)
	}
	if len(b) > OrderUIDLength {
		return OrderUID{}, fmt.Errorf("domain.ParseOrderUID: %q: %d bytes exceeds %d", s, len(b), OrderUIDLength)
	}
	return BytesToOrderUID(b), nil
}

// Hex devuelve la codificación completa con 0x.
func (u OrderUID) Hex() string {
	return hexutil.Encode(u[:])
}

// String quita los ceros iniciales para que los uids cortos se lean en los logs.
func (u OrderUID) String() string {
	trimmed := bytes.TrimLeft(u[:], "\x00")
	if len(trimmed) == 0 {
		return "0x00"
	}
	return hexutil.Encode(trimmed)
}

// SortOrderUIDs ordena por bytes y devuelve el mismo slice.
func SortOrderUIDs(uids []OrderUID) []OrderUID {
	slices.SortFunc(uids, func(a, b OrderUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return uids
}
