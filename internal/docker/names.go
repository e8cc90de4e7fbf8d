package docker

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// EncodeName escapes a tenant name into a string that is safe for
// container and volume names. ASCII letters and digits are kept; every
// other byte of the UTF-8 encoding becomes '-' followed by its two hex
// digits. The result is lowercased, so "user.name" becomes "user-2ename".
func EncodeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('-')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return strings.ToLower(b.String())
}

func isSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Naming builds orchestrator object names from tenant names.
type Naming struct {
	Prefix string
}

// Container returns the name of the tenant's workload container.
func (n Naming) Container(username string) string {
	return n.Prefix + EncodeName(username)
}

// Volume returns the name of one of the tenant's volumes.
func (n Naming) Volume(username, suffix string) string {
	return fmt.Sprintf("%s%s_%s", n.Prefix, EncodeName(username), suffix)
}

// SplitVolume parses a volume name into the encoded tenant name and the
// volume suffix. It reports false for volumes that do not belong to a
// tenant.
func (n Naming) SplitVolume(volume string) (encoded, suffix string, ok bool) {
	rest, found := strings.CutPrefix(volume, n.Prefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '_')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
