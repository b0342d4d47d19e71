// Package naming checks bucket names and object keys against the provider's
// syntax rules before any request leaves the process.
package naming

import (
	"strings"

	"github.com/arencloud/bucketwarden/internal/storage"
)

const (
	MinBucketLen = 3
	MaxBucketLen = 63
	MaxKeyLen    = 1024
)

// Reason names the rule a candidate violated.
type Reason string

const (
	TooShort          Reason = "too short"
	TooLong           Reason = "too long"
	IllegalCharacter  Reason = "illegal character"
	EdgeDot           Reason = "leading or trailing dot"
	ConsecutiveDots   Reason = "consecutive dots"
	DotAdjacentHyphen Reason = "dot adjacent to hyphen"
	EmptyKey          Reason = "empty"
)

// illegal in object keys
const keyForbidden = `<>:"|?*`

// Verdict is the result of a check. The zero value is an accepted candidate.
type Verdict struct {
	Subject string
	Value   string
	Reason  Reason
}

// OK reports whether the candidate was accepted.
func (v Verdict) OK() bool { return v.Reason == "" }

// Err converts a rejection into a storage error of kind InvalidName, or nil.
func (v Verdict) Err() error {
	if v.OK() {
		return nil
	}
	return storage.Errorf(storage.KindInvalidName, "validate", "invalid %s %q: %s", v.Subject, v.Value, v.Reason)
}

func (v Verdict) String() string {
	if v.OK() {
		return "ok"
	}
	return string(v.Reason)
}

// CheckBucket validates a bucket name. Rules are checked in a fixed order so
// a name breaking exactly one rule always reports that rule.
func CheckBucket(name string) Verdict {
	v := Verdict{Subject: "bucket name", Value: name}
	switch {
	case len(name) < MinBucketLen:
		v.Reason = TooShort
	case len(name) > MaxBucketLen:
		v.Reason = TooLong
	case !bucketCharset(name):
		v.Reason = IllegalCharacter
	case name[0] == '.' || name[len(name)-1] == '.':
		v.Reason = EdgeDot
	case strings.Contains(name, ".."):
		v.Reason = ConsecutiveDots
	case strings.Contains(name, ".-") || strings.Contains(name, "-."):
		v.Reason = DotAdjacentHyphen
	}
	return v
}

// CheckKey validates an object key. Length is counted in bytes.
func CheckKey(key string) Verdict {
	v := Verdict{Subject: "object key", Value: key}
	switch {
	case key == "":
		v.Reason = EmptyKey
	case len(key) > MaxKeyLen:
		v.Reason = TooLong
	case strings.ContainsAny(key, keyForbidden):
		v.Reason = IllegalCharacter
	}
	return v
}

// Bucket is shorthand for CheckBucket(name).Err().
func Bucket(name string) error { return CheckBucket(name).Err() }

// Key is shorthand for CheckKey(key).Err().
func Key(key string) error { return CheckKey(key).Err() }

// Object validates a bucket and key pair, bucket first.
func Object(bucket, key string) error {
	if err := Bucket(bucket); err != nil {
		return err
	}
	return Key(key)
}

func bucketCharset(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '-' {
			continue
		}
		return false
	}
	return true
}
