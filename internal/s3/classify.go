package s3

import (
	"errors"
	"strings"

	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/aws/smithy-go"
	minio "github.com/minio/minio-go/v7"
)

// classify maps a provider error onto the storage taxonomy. The structured
// error code wins; the message text is only consulted for cases providers
// report in prose.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return err
	}
	code, msg := providerError(err)
	return storage.E(kindFor(code, msg), op, describe(code, msg), err)
}

// providerError extracts the code and message of an AWS or MinIO error.
func providerError(err error) (code, msg string) {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode(), ae.ErrorMessage()
	}
	var er minio.ErrorResponse
	if errors.As(err, &er) && er.Code != "" {
		return er.Code, er.Message
	}
	return "", err.Error()
}

func kindFor(code, msg string) storage.Kind {
	switch code {
	case "NoSuchBucket", "NoSuchKey", "NotFound", "NoSuchAccessPoint":
		return storage.KindNotFound
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return storage.KindAlreadyExists
	case "BucketNotEmpty":
		return storage.KindNotEmpty
	}
	switch {
	case hasDependentsText(msg):
		return storage.KindHasDependents
	case containsNoSuchBucket(msg):
		return storage.KindNotFound
	}
	return storage.KindUnavailable
}

// hasDependentsText reports whether a delete-bucket failure message says
// access points are still attached. Providers expose no dedicated code for
// this, so it is the one rule that depends on wording.
func hasDependentsText(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "access point") || strings.Contains(m, "accesspoint")
}

// containsNoSuchBucket reports whether the error message indicates the bucket is missing.
func containsNoSuchBucket(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "nosuchbucket") || strings.Contains(m, "bucket does not exist")
}

func describe(code, msg string) string {
	switch {
	case code != "" && msg != "":
		return code + ": " + msg
	case code != "":
		return code
	}
	return msg
}
