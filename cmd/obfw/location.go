package main

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"

	"github.com/ndlib/obfw/store"
)

// splitBucketPrefix will take a path and separate the bucket name from a prefix, if any.
// It will also append "addition" to the prefix, and make sure the prefix returned is
// either empty or ends with a slash "/".
//
// examples:
//
//	"" -> ("", "")
//	"bucket" -> ("bucket", "")
//	"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string, addition string) (bucket, prefix string) {
	if location == "" {
		return
	}
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if addition != "" {
		prefix = path.Join(prefix, addition)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// parselocation will create an appropriate store based on "location".
// If location is empty, a memory store is returned.
// A plain path or "file:" is a directory, and "s3:" names a bucket and
// prefix. Other schemes are an error.
func parselocation(location string, addition string) (store.Store, error) {
	if location == "" {
		return store.NewMemory(), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(err, "parsing location")
	}
	switch u.Scheme {
	case "", "file":
		p := u.Path
		if p == "" {
			// "file:rel/path" puts the path in Opaque
			p = u.Opaque
		}
		p = filepath.Join(p, addition)
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, err
		}
		return store.NewFileSystem(p), nil
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path, addition)
		if bucket == "" {
			return nil, errors.Errorf("no bucket name in location %s", location)
		}
		sess, err := session.NewSession(conf)
		if err != nil {
			return nil, err
		}
		return store.NewS3(bucket, prefix, sess), nil
	}
	return nil, errors.Errorf("unknown location scheme %q", u.Scheme)
}
