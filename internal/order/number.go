package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewNumber builds a customer-facing order number of the form
// ORD-<last 6 digits of unix millis><4 uppercase alphanumerics>.
func NewNumber(now time.Time) string {
	id := uuid.New()
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = numberAlphabet[int(id[i])%len(numberAlphabet)]
	}
	return fmt.Sprintf("ORD-%06d%s", now.UnixMilli()%1_000_000, suffix)
}
