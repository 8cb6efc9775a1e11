// Package swiftupload delivers upload units to OpenStack Swift as the
// segments of a dynamic large object.
package swiftupload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"

	"github.com/ncw/swift"

	"github.com/user/webmshrink/pkg/ports"
)

// ObjectStore is the part of *swift.Connection the transport uses.
type ObjectStore interface {
	ObjectPut(container string, objectName string, contents io.Reader, checkHash bool, Hash string, contentType string, h swift.Headers) (swift.Headers, error)
	ObjectDelete(container string, objectName string) error
}

// Credentials identify a Swift account.
type Credentials struct {
	UserName string
	APIKey   string
	AuthURL  string
	Domain   string
	Tenant   string
	Region   string

	// AuthVersion is taken from the end of AuthURL when zero.
	AuthVersion int
}

// Authenticate logs in and returns a connection.
func Authenticate(creds Credentials) (*swift.Connection, error) {
	version := creds.AuthVersion
	if version == 0 {
		v, err := authVersion(creds.AuthURL)
		if err != nil {
			return nil, err
		}
		version = v
	}

	conn := &swift.Connection{
		UserName:    creds.UserName,
		ApiKey:      creds.APIKey,
		AuthUrl:     creds.AuthURL,
		Domain:      creds.Domain,
		Tenant:      creds.Tenant,
		Region:      creds.Region,
		AuthVersion: version,
	}
	if err := conn.Authenticate(); err != nil {
		return nil, fmt.Errorf("authenticate with object storage: %w", err)
	}
	return conn, nil
}

var authVersionRegex = regexp.MustCompile(`.*/v([0-9])[.0-9]*/?$`)

// authVersion extracts the auth version from the end of an auth URL such
// as https://example.com/v3.
func authVersion(url string) (int, error) {
	matches := authVersionRegex.FindStringSubmatch(url)
	if len(matches) < 2 {
		return 0, fmt.Errorf("unable to extract an auth version number from url %s", url)
	}
	return strconv.Atoi(matches[1])
}

// Transport implements ports.UploadTransport. Units are stored as
// <filename>/<index> and Complete writes the manifest object <filename>
// pointing at them.
type Transport struct {
	store     ObjectStore
	container string

	mu       sync.Mutex
	segments map[string][]string
}

// New creates a transport for container.
func New(store ObjectStore, container string) *Transport {
	return &Transport{
		store:     store,
		container: container,
		segments:  make(map[string][]string),
	}
}

// SegmentName returns the object name of a unit.
func SegmentName(filename string, index int) string {
	return fmt.Sprintf("%s/%08d", filename, index)
}

// Upload stores one segment. Swift verifies the MD5 of the payload.
func (t *Transport) Upload(ctx context.Context, unit ports.UploadUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := SegmentName(unit.Filename, unit.Index)
	sum := md5.Sum(unit.Data)
	_, err := t.store.ObjectPut(t.container, name, bytes.NewReader(unit.Data), true,
		hex.EncodeToString(sum[:]), "application/octet-stream", nil)
	if err != nil {
		return fmt.Errorf("put segment %s: %w", name, err)
	}

	t.mu.Lock()
	t.segments[unit.Filename] = append(t.segments[unit.Filename], name)
	t.mu.Unlock()
	return nil
}

// Complete writes the manifest object that joins the segments.
func (t *Transport) Complete(ctx context.Context, summary ports.UploadSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := swift.Headers{
		"X-Object-Manifest": fmt.Sprintf("%s/%s/", t.container, summary.Filename),
	}
	_, err := t.store.ObjectPut(t.container, summary.Filename, bytes.NewReader(nil), false, "", "video/webm", headers)
	if err != nil {
		return fmt.Errorf("put manifest %s: %w", summary.Filename, err)
	}

	t.mu.Lock()
	delete(t.segments, summary.Filename)
	t.mu.Unlock()
	return nil
}

// Abort deletes the segments uploaded for filename.
func (t *Transport) Abort(ctx context.Context, filename string) error {
	t.mu.Lock()
	names := t.segments[filename]
	delete(t.segments, filename)
	t.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := t.store.ObjectDelete(t.container, name); err != nil && err != swift.ObjectNotFound && firstErr == nil {
			firstErr = fmt.Errorf("delete segment %s: %w", name, err)
		}
	}
	return firstErr
}

var _ ports.UploadTransport = (*Transport)(nil)
var _ ObjectStore = (*swift.Connection)(nil)
