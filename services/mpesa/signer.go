package mpesa

import (
	"encoding/base64"
	"time"
)

// TimestampLayout is the gateway's YYYYMMDDHHmmss format.
const TimestampLayout = "20060102150405"

// Signature is the password/timestamp pair the STK push endpoint expects.
// The password embeds the passkey and must never be logged.
type Signature struct {
	Timestamp string
	Password  string
}

// Signer derives request signatures from the merchant shortcode and passkey.
type Signer struct {
	shortcode string
	passkey   string
}

func NewSigner(shortcode, passkey string) *Signer {
	return &Signer{shortcode: shortcode, passkey: passkey}
}

// Sign formats now on the host clock and encodes shortcode+passkey+timestamp.
func (s *Signer) Sign(now time.Time) (Signature, error) {
	if s.shortcode == "" {
		return Signature{}, &ConfigError{Field: "MPESA_SHORTCODE"}
	}
	if s.passkey == "" {
		return Signature{}, &ConfigError{Field: "MPESA_PASSKEY"}
	}
	ts := now.Format(TimestampLayout)
	return Signature{
		Timestamp: ts,
		Password:  base64.StdEncoding.EncodeToString([]byte(s.shortcode + s.passkey + ts)),
	}, nil
}
