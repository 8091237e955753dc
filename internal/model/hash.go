package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainFeature versions the feature document hash.
const DomainFeature = "stableid/feature/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FeatureHash is the content hash of a record's feature document as recorded
// in the change log. Key order and Unicode composition do not affect it.
func FeatureHash(doc FeatureDocument) (string, error) {
	if doc == nil {
		doc = FeatureDocument{}
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("hash feature document: %w", err)
	}
	return hashWithDomain(DomainFeature, canonical), nil
}
