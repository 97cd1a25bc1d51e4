package config

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash fingerprints the parts of the config that make a resumed run
// equivalent to the original: targets, scope patterns, and the stage
// surface (passive-only, wordlist). Tool versions and concurrency knobs
// are deliberately excluded.
func (c *Config) Hash(stageNames []string) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	targets := append([]string(nil), c.Scan.Targets...)
	sort.Strings(targets)
	write(targets...)
	write(c.Scan.Include...)
	write(c.Scan.Exclude...)
	if c.Scan.PassiveOnly {
		write("passive-only")
	}
	write(c.Scan.Wordlist)

	names := append([]string(nil), stageNames...)
	sort.Strings(names)
	write(strings.Join(names, ","))

	return hex.EncodeToString(h.Sum(nil))
}
