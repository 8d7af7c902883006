package store

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A S3 store keeps its values as objects in an S3 bucket. Every key is
// prefixed by Prefix, so one bucket can hold more than one store.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	Bucket string
	Prefix string

	// PageSize is the size of the ranged GETs made by readers.
	PageSize int64

	svc   *s3.S3
	up    *s3manager.Uploader
	sizes *sizecache
	log   *logrus.Entry
}

const (
	defaultPageSize = 8 * 1024 * 1024
	maxPages        = 4 // per open reader
)

var _ Store = &S3{}

// NewS3 creates a new S3 store. The authorization method and credentials in
// the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	svc := s3.New(awsSession)
	return &S3{
		Bucket:   bucket,
		Prefix:   prefix,
		PageSize: defaultPageSize,
		svc:      svc,
		up:       s3manager.NewUploaderWithClient(svc),
		sizes:    newSizeCache(),
		log:      logrus.WithFields(logrus.Fields{"module": "store", "bucket": bucket}),
	}
}

func (s *S3) report(op string, err error, key string) {
	s.log.WithFields(logrus.Fields{"op": op, "key": key}).WithError(err).Errorln("S3")
	raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
}

func (s *S3) list(prefix string, fn func(key string)) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	return s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				fn(strings.TrimPrefix(aws.StringValue(item.Key), s.Prefix))
			}
			return true
		})
}

// List returns the keys in this store. Objects in the bucket outside of
// Prefix are not included.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		err := s.list("", func(key string) { out <- key })
		if err != nil {
			s.report("list", err, "")
		}
	}()
	return out
}

// ListPrefix returns the sorted keys in this store that have the given
// prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	c := make(chan string)
	var err error
	go func() {
		err = s.list(prefix, func(key string) { c <- key })
		close(c)
	}()
	result := collect(c, prefix)
	if err != nil {
		s.report("list", err, prefix)
	}
	return result, err
}

// Open returns a reader paging in the content of key with ranged GETs. The
// reader may be used from more than one goroutine.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.sizes.Get(key, s.head)
	if err != nil {
		return nil, 0, err
	}
	return &s3Reader{s: s, key: s.Prefix + key, size: size}, size, nil
}

// head asks S3 for the size of key.
func (s *S3) head(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if isStatus(err, http.StatusNotFound) {
		return 0, errors.Wrap(ErrNotExist, key)
	} else if err != nil {
		return 0, err
	}
	return aws.Int64Value(info.ContentLength), nil
}

func isStatus(err error, code int) bool {
	var e awserr.RequestFailure
	return errors.As(err, &e) && e.StatusCode() == code
}

// Create returns a writer streaming a new object to S3. The object is
// uploaded in parts as the data arrives; it appears once Close returns
// without error.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	_, err := s.sizes.Get(key, s.head)
	if err == nil {
		return nil, ErrKeyExists
	} else if !errors.Is(err, ErrNotExist) {
		return nil, err
	}
	s.sizes.Forget(key)

	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.up.Upload(&s3manager.UploadInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(s.Prefix + key),
			Body:   pr,
		})
		if err != nil {
			s.report("upload", err, key)
			pr.CloseWithError(err)
		}
		// drop the miss recorded by anyone looking for key meanwhile
		s.sizes.Forget(key)
		w.done <- err
	}()
	return w, nil
}

type s3Writer struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
	err    error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close waits for the upload to finish.
func (w *s3Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	w.pw.Close()
	w.err = <-w.done
	return w.err
}

// Delete removes key. It is not an error to delete something that doesn't
// exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		s.report("delete", err, key)
		return err
	}
	s.sizes.Set(key, sizeMissing)
	return nil
}

// s3Reader keeps the few most recently used pages of an object.
type s3Reader struct {
	s    *S3
	key  string
	size int64

	m     sync.Mutex
	pages []s3Page // most recently used first
}

type s3Page struct {
	offset int64
	data   []byte
}

func (r *s3Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	r.m.Lock()
	defer r.m.Unlock()
	var n int
	for n < len(p) && off < r.size {
		page, err := r.page(off)
		if err != nil {
			return n, err
		}
		within := off - page.offset
		if within >= int64(len(page.data)) {
			// the object is shorter than when it was opened
			return n, io.ErrUnexpectedEOF
		}
		c := copy(p[n:], page.data[within:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *s3Reader) pageSize() int64 {
	if r.s.PageSize > 0 {
		return r.s.PageSize
	}
	return defaultPageSize
}

// page returns the page holding offset, loading it if needed.
func (r *s3Reader) page(offset int64) (s3Page, error) {
	ps := r.pageSize()
	start := offset / ps * ps
	for i, page := range r.pages {
		if page.offset == start {
			copy(r.pages[1:i+1], r.pages[:i])
			r.pages[0] = page
			return page, nil
		}
	}
	page, err := r.load(start, ps)
	if err != nil {
		return s3Page{}, err
	}
	if len(r.pages) < maxPages {
		r.pages = append(r.pages, s3Page{})
	}
	copy(r.pages[1:], r.pages)
	r.pages[0] = page
	return page, nil
}

func (r *s3Reader) load(start, length int64) (s3Page, error) {
	end := start + length
	if end > r.size {
		end = r.size
	}
	output, err := r.s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(r.s.Bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if isStatus(err, http.StatusRequestedRangeNotSatisfiable) {
		return s3Page{}, io.ErrUnexpectedEOF
	} else if err != nil {
		r.s.report("get", err, r.key)
		return s3Page{}, err
	}
	defer output.Body.Close()
	var buf bytes.Buffer
	buf.Grow(int(end - start))
	if _, err := io.Copy(&buf, output.Body); err != nil {
		return s3Page{}, err
	}
	if buf.Len() == 0 {
		return s3Page{}, io.ErrUnexpectedEOF
	}
	return s3Page{offset: start, data: buf.Bytes()}, nil
}

func (r *s3Reader) Close() error {
	r.m.Lock()
	r.pages = nil
	r.m.Unlock()
	return nil
}
