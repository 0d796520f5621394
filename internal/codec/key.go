package codec

// EpochSeconds is the lifetime of one key, in seconds.
const EpochSeconds = 600

const (
	keyCycle = 200
	keyBase  = 20
)

// DeriveKey returns the key identifier and XOR key for a unix timestamp.
// keyID is floor(timestamp / 600); key is (keyID mod 200) + 20.
func DeriveKey(timestamp int64) (keyID int64, key byte) {
	keyID = floorDiv(timestamp, EpochSeconds)
	return keyID, KeyForID(keyID)
}

// KeyForID returns the XOR key for a key identifier. The receiver uses it to
// recover the key from an envelope, which never carries the key itself.
func KeyForID(keyID int64) byte {
	m := keyID % keyCycle
	if m < 0 {
		m += keyCycle
	}
	return byte(m + keyBase)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
