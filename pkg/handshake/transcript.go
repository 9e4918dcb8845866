package handshake

import (
	"crypto/ed25519"
	"encoding/base64"
	"strconv"
	"strings"
)

// Transcript builds the canonical bytes signed by a Hello. Format:
//
//	homerun:hello|v=1|alg=<alg>|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>|user=<id>|name=<name>|match=<id>
func Transcript(h *Hello) []byte {
	b64 := base64.RawURLEncoding
	var sb strings.Builder
	sb.Grow(160 + len(h.UserID) + len(h.DisplayName) + len(h.MatchID))
	sb.WriteString("homerun:hello|v=")
	sb.WriteString(strconv.FormatUint(uint64(h.Version), 10))
	sb.WriteString("|alg=")
	sb.WriteString(strings.ToLower(strings.TrimSpace(h.Alg)))
	sb.WriteString("|ts=")
	sb.WriteString(strconv.FormatInt(h.Timestamp, 10))
	sb.WriteString("|pub=")
	sb.WriteString(b64.EncodeToString(h.PubKey))
	sb.WriteString("|nonce=")
	sb.WriteString(b64.EncodeToString(h.Nonce))
	sb.WriteString("|user=")
	sb.WriteString(h.UserID)
	sb.WriteString("|name=")
	sb.WriteString(h.DisplayName)
	sb.WriteString("|match=")
	sb.WriteString(h.MatchID)
	return []byte(sb.String())
}

func signEd25519(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

func verifyEd25519(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}
