package config

import (
	"encoding/base64"
	"fmt"
)

// ObfuscatePassword Base64-wraps a password for disk storage. This is
// obfuscation, not encryption: anyone with read access to the config file
// can trivially recover the plaintext. See DESIGN NOTES in spec.md.
func ObfuscatePassword(plain string) string {
	return base64.StdEncoding.EncodeToString([]byte(plain))
}

// DeobfuscatePassword reverses ObfuscatePassword.
func DeobfuscatePassword(stored string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decode stored password: %w", err)
	}
	return string(b), nil
}
