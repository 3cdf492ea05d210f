package tor

import (
	"encoding/base32"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// OnionSuffix ends every hidden service host name.
	OnionSuffix = ".onion"

	onionV3Version = 0x03
	onionV3Decoded = 35 // 32-byte key, 2-byte checksum, version
)

var onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)

var checksumPrefix = []byte(".onion checksum")

// IsOnionHost reports whether host (with or without a port) is a hidden
// service name.
func IsOnionHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.HasSuffix(host, OnionSuffix)
}

// IsValidV3Address reports whether address is a v3 onion name whose
// embedded checksum matches its public key.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)
	if !onionV3Pattern.MatchString(address) {
		return false
	}

	label := strings.TrimSuffix(address, OnionSuffix)
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(label))
	if err != nil || len(decoded) != onionV3Decoded {
		return false
	}

	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != onionV3Version {
		return false
	}
	want := v3Checksum(pubkey, version)
	return checksum[0] == want[0] && checksum[1] == want[1]
}

// v3Checksum is the first two bytes of
// SHA3-256(".onion checksum" || pubkey || version).
func v3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)
	sum := sha3.Sum256(data)
	return sum[:2]
}
