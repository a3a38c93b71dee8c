package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainBody prefixes body digests. The version suffix allows a future
// algorithm change without colliding with stored digests.
const DomainBody = "hydroplante/body/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// BodyDigest returns the content digest stored alongside a cached body.
func BodyDigest(body []byte) string {
	return hashWithDomain(DomainBody, body)
}
