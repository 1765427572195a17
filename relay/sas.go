// Package relay implements the hybrid connection transport the gateway
// uses to exchange commands and events with the scheduling backend. Both
// directions ride rendezvous websockets authorized by shared access
// signature tokens.
package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer issues shared access signature tokens for one hybrid connection.
type Signer struct {
	Namespace  string // e.g. "example.servicebus.windows.net"
	EntityPath string // hybrid connection name
	KeyName    string
	Key        string
	Validity   time.Duration
}

// NewSigner builds a Signer. The key is required; everything else is
// validated lazily so misconfiguration surfaces as a signing error.
func NewSigner(namespace, entityPath, keyName, key string, validity time.Duration) (*Signer, error) {
	if key == "" {
		return nil, errors.New("relay: shared access key is empty")
	}
	if validity <= 0 {
		validity = time.Hour
	}
	return &Signer{
		Namespace:  namespace,
		EntityPath: entityPath,
		KeyName:    keyName,
		Key:        key,
		Validity:   validity,
	}, nil
}

// ResourceURI returns the http form URI the token is scoped to.
func (s *Signer) ResourceURI() string {
	return fmt.Sprintf("http://%s/%s", s.Namespace, s.EntityPath)
}

// Token signs a shared access signature valid from now.
func (s *Signer) Token(now time.Time) string {
	expiry := strconv.FormatInt(now.Add(s.Validity).Unix(), 10)
	encodedURI := url.QueryEscape(s.ResourceURI())

	mac := hmac.New(sha256.New, []byte(s.Key))
	mac.Write([]byte(encodedURI + "\n" + expiry))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		encodedURI, url.QueryEscape(signature), expiry, s.KeyName)
}

// Token holds the decoded fields of a shared access signature.
type Token struct {
	ResourceURI string
	Signature   string
	Expiry      time.Time
	KeyName     string
}

// ParseToken decodes a shared access signature string.
func ParseToken(raw string) (*Token, error) {
	const prefix = "SharedAccessSignature "
	if !strings.HasPrefix(raw, prefix) {
		return nil, errors.New("relay: not a shared access signature")
	}

	fields := make(map[string]string)
	for _, part := range strings.Split(raw[len(prefix):], "&") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("relay: malformed token field %q", part)
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("relay: token field %s: %w", key, err)
		}
		fields[key] = decoded
	}

	for _, required := range []string{"sr", "sig", "se", "skn"} {
		if fields[required] == "" {
			return nil, fmt.Errorf("relay: token missing %s", required)
		}
	}

	expiry, err := strconv.ParseInt(fields["se"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("relay: token expiry: %w", err)
	}

	return &Token{
		ResourceURI: fields["sr"],
		Signature:   fields["sig"],
		Expiry:      time.Unix(expiry, 0),
		KeyName:     fields["skn"],
	}, nil
}
