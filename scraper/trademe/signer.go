package trademe

import (
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Role selects which OAuth 1.0 leg a header is signed for.
type Role int

const (
	// RoleRequestToken signs the temporary credential request and adds
	// oauth_callback.
	RoleRequestToken Role = iota
	// RoleAccessToken exchanges a verified request token and adds
	// oauth_token and oauth_verifier.
	RoleAccessToken
	// RoleAPI signs ordinary API calls and adds oauth_token.
	RoleAPI
)

// SignOptions carries the role-specific credentials. Fields a role does not
// use are ignored.
type SignOptions struct {
	Token       string
	TokenSecret string
	CallbackURL string
	Verifier    string
}

// Sign builds an OAuth 1.0 Authorization header value using the PLAINTEXT
// method. Each call uses a fresh nonce and timestamp.
func Sign(role Role, consumerKey, consumerSecret string, opts SignOptions) string {
	return signWith(role, consumerKey, consumerSecret, opts, newNonce(), time.Now().Unix())
}

func signWith(role Role, consumerKey, consumerSecret string, opts SignOptions, nonce string, timestamp int64) string {
	params := [][2]string{
		{"oauth_consumer_key", consumerKey},
		{"oauth_nonce", nonce},
		{"oauth_signature_method", "PLAINTEXT"},
		{"oauth_timestamp", strconv.FormatInt(timestamp, 10)},
		{"oauth_version", "1.0"},
	}

	switch role {
	case RoleRequestToken:
		params = append(params, [2]string{"oauth_callback", opts.CallbackURL})
	case RoleAccessToken:
		params = append(params,
			[2]string{"oauth_token", opts.Token},
			[2]string{"oauth_verifier", opts.Verifier})
	case RoleAPI:
		params = append(params, [2]string{"oauth_token", opts.Token})
	}

	signature := percentEncode(consumerSecret) + "&" + percentEncode(opts.TokenSecret)
	params = append(params, [2]string{"oauth_signature", signature})

	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p[0]+`="`+percentEncode(p[1])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// percentEncode applies RFC 3986 encoding, which differs from form encoding
// only in how spaces are written.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func newNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}
