package archive

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer mints time-limited download URLs for restored objects. The
// gateway verifies the same HMAC, so possession of a fresh URL is the
// only credential a download needs.
type Signer struct {
	baseURL string
	bucket  string
	prefix  string
	secret  []byte
	ttl     time.Duration
}

// NewSigner builds a Signer. The secret must be shared with the gateway.
func NewSigner(baseURL, bucket, prefix, secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("archive: download sign secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("archive: download URL TTL must be > 0")
	}
	return &Signer{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		prefix:  prefix,
		secret:  []byte(secret),
		ttl:     ttl,
	}, nil
}

// DownloadURL returns a signed GET URL for file and the instant it stops
// working.
func (s *Signer) DownloadURL(file string, now time.Time) (string, time.Time) {
	expiresAt := now.Add(s.ttl)
	expires := expiresAt.Unix()
	key := s.prefix + file
	sig := s.sign(key, expires)
	return fmt.Sprintf("%s/%s/%s?expires=%d&signature=%s",
		s.baseURL, s.bucket, url.PathEscape(key), expires, sig), expiresAt
}

// Verify checks a signature produced by DownloadURL. The gateway does
// this in production; it is exposed here so the pair stays in one place.
func (s *Signer) Verify(key string, expires int64, sig string, now time.Time) bool {
	if now.Unix() > expires {
		return false
	}
	want := s.sign(key, expires)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}

func (s *Signer) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
