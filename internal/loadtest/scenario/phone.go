package scenario

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// maxPhoneComponent is the largest value that fits four digits.
const maxPhoneComponent = 9999

// ErrPhoneSpaceExhausted is returned when a VU id or iteration no longer fits
// its four digits and the phone number would collide with another one.
var ErrPhoneSpaceExhausted = errors.New("phone number space exhausted")

// Phone builds the login phone number for one iteration of one VU: prefix,
// then the VU id and the iteration, each zero-padded to four digits.
func Phone(prefix string, vuID int, iteration int64) (string, error) {
	if vuID < 0 || vuID > maxPhoneComponent {
		return "", fmt.Errorf("%w: vu id %d", ErrPhoneSpaceExhausted, vuID)
	}
	if iteration < 0 || iteration > maxPhoneComponent {
		return "", fmt.Errorf("%w: vu %d iteration %d", ErrPhoneSpaceExhausted, vuID, iteration)
	}
	return fmt.Sprintf("%s%04d%04d", prefix, vuID, iteration), nil
}

// RandomIPv4 returns a dotted address with the first octet in 1..255 and the
// others in 0..254. A nil r uses the package-level generator.
func RandomIPv4(r *rand.Rand) string {
	intn := rand.IntN
	if r != nil {
		intn = r.IntN
	}
	return fmt.Sprintf("%d.%d.%d.%d", intn(255)+1, intn(255), intn(255), intn(255))
}
