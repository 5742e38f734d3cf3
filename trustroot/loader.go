package trustroot

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	shell "github.com/ipfs/go-ipfs-api"
)

// Loader fetches raw trust root bytes from a backing location.
type Loader interface {
	Fetch(ctx context.Context) ([]byte, error)

	// LocationURI identifies the backing location, for logging.
	LocationURI() string
}

// LoadOptions tune trust root loading.
type LoadOptions struct {
	// SHA256Pin, if non-empty, is the hex SHA-256 digest the fetched bytes
	// must match before they are accepted.
	SHA256Pin string

	// Timeout bounds a single fetch. Zero means 30 seconds.
	Timeout time.Duration
}

// Load creates a Store from a location URI.
//
// The URI format is [scheme]://[host][/path][?params]. Supported schemes are
// file, https, s3 (s3://bucket/key?region=...) and ipfs
// (ipfs://host:port/cid). An https location ending in .zip is unpacked and
// root.pem is read from the archive.
func Load(ctx context.Context, locationURI string, opts LoadOptions, log *slog.Logger) (*Store, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid trust root location URI: %w", err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var loader Loader
	switch strings.ToLower(u.Scheme) {
	case "file":
		loader = &fileLoader{path: filePath(u)}
	case "https":
		loader = &httpsLoader{url: locationURI, timeout: timeout}
	case "s3":
		loader, err = newS3Loader(u)
		if err != nil {
			return nil, err
		}
	case "ipfs":
		loader, err = newIPFSLoader(u)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported trust root scheme: %s", u.Scheme)
	}

	if opts.SHA256Pin != "" {
		loader = &pinnedLoader{inner: loader, pin: opts.SHA256Pin}
	}

	log.Debug("Loading trust root", slog.String("locationURI", loader.LocationURI()))
	return newStoreWithLoader(ctx, loader)
}

// pinnedLoader wraps a loader with a SHA-256 integrity check.
type pinnedLoader struct {
	inner Loader
	pin   string
}

func (l *pinnedLoader) Fetch(ctx context.Context) ([]byte, error) {
	data, err := l.inner.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != strings.ToLower(l.pin) {
		return nil, fmt.Errorf("trust root integrity check failed for %s: digest %x does not match pin", l.inner.LocationURI(), digest)
	}
	return data, nil
}

func (l *pinnedLoader) LocationURI() string { return l.inner.LocationURI() }

type fileLoader struct {
	path string
}

func (l *fileLoader) Fetch(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("could not read trust root file: %w", err)
	}
	return data, nil
}

func (l *fileLoader) LocationURI() string { return "file://" + l.path }

func filePath(u *url.URL) string {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	return path
}

// httpsLoader fetches the root from a well-known https location. Zip
// archives are unwrapped: the platform publishes its root as a zip
// containing root.pem.
type httpsLoader struct {
	url     string
	timeout time.Duration
}

func (l *httpsLoader) Fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize trust root request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch trust root: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trust root fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read trust root response: %w", err)
	}

	if strings.HasSuffix(l.url, ".zip") {
		return unzipRootPEM(data)
	}
	return data, nil
}

func (l *httpsLoader) LocationURI() string { return l.url }

func unzipRootPEM(data []byte) ([]byte, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("could not open trust root archive: %w", err)
	}
	f, err := archive.Open("root.pem")
	if err != nil {
		return nil, fmt.Errorf("trust root archive has no root.pem: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// s3Loader fetches the root from an S3 object.
// URI format: s3://bucket/key?region=us-east-1&endpoint=custom.s3.com
type s3Loader struct {
	client *s3.S3
	bucket string
	key    string
	uri    string
}

func newS3Loader(u *url.URL) (*s3Loader, error) {
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	cfg := aws.Config{Region: aws.String(region)}
	if endpoint := u.Query().Get("endpoint"); endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &s3Loader{
		client: s3.New(sess),
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
		uri:    fmt.Sprintf("s3://%s/%s?region=%s", u.Host, strings.TrimPrefix(u.Path, "/"), region),
	}, nil
}

func (l *s3Loader) Fetch(ctx context.Context) ([]byte, error) {
	out, err := l.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return nil, fmt.Errorf("could not fetch trust root from S3: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (l *s3Loader) LocationURI() string { return l.uri }

// ipfsLoader fetches the root from an IPFS node by CID.
// URI format: ipfs://host:port/cid
type ipfsLoader struct {
	shell *shell.Shell
	cid   string
	uri   string
}

func newIPFSLoader(u *url.URL) (*ipfsLoader, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "5001"
	}
	cid := strings.TrimPrefix(u.Path, "/")
	if cid == "" {
		return nil, fmt.Errorf("ipfs trust root URI missing CID: %s", u.String())
	}

	apiURL := fmt.Sprintf("%s:%s", host, port)
	return &ipfsLoader{
		shell: shell.NewShell(apiURL),
		cid:   cid,
		uri:   fmt.Sprintf("ipfs://%s/%s", apiURL, cid),
	}, nil
}

func (l *ipfsLoader) Fetch(ctx context.Context) ([]byte, error) {
	reader, err := l.shell.Cat(l.cid)
	if err != nil {
		return nil, fmt.Errorf("could not fetch trust root from IPFS: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (l *ipfsLoader) LocationURI() string { return l.uri }
