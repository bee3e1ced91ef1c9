package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewActionID returns a random action identifier with the xs_ prefix.
func NewActionID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "xs_unknown"
	}
	return fmt.Sprintf("xs_%s", hex.EncodeToString(b))
}
