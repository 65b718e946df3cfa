// SPDX-License-Identifier: Apache-2.0

package notifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 of the exact payload bytes under the
// registration's shared secret. Receivers recompute it over the body they
// received to verify authenticity and integrity.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
