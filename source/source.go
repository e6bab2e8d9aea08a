package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/wippyai/wtd-bridge/errors"
)

// DefaultMaxBytes caps the size of a fetched engine binary.
const DefaultMaxBytes int64 = 32 << 20

// Source locates and reads an engine binary.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Location() string
}

// Options tune remote and local fetches.
type Options struct {
	Client   *http.Client
	MaxBytes int64
	Timeout  time.Duration
}

func (o Options) maxBytes() int64 {
	if o.MaxBytes > 0 {
		return o.MaxBytes
	}
	return DefaultMaxBytes
}

// Parse resolves location to a Source. http and https URLs are fetched over
// the network; file URLs and bare paths are read from disk.
func Parse(location string, opts Options) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.Load(errors.StageFetch, "empty engine location", nil)
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare path, including Windows drive letters
		return &File{Path: location, MaxBytes: opts.maxBytes()}, nil
	}

	switch u.Scheme {
	case "http", "https":
		client := opts.Client
		if client == nil {
			client = &http.Client{Timeout: opts.Timeout}
		}
		return &HTTP{URL: u.String(), Client: client, MaxBytes: opts.maxBytes()}, nil
	case "file":
		path := u.Path
		if u.Host != "" && u.Host != "localhost" {
			path = "//" + u.Host + u.Path
		}
		return &File{Path: path, MaxBytes: opts.maxBytes()}, nil
	default:
		return nil, errors.New(errors.KindLoad, errors.StageFetch).
			Resource(location).
			Detail("unsupported scheme %q", u.Scheme).
			Build()
	}
}

// File reads the binary from the local filesystem.
type File struct {
	Path     string
	MaxBytes int64
}

func (f *File) Location() string { return f.Path }

func (f *File) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Load(errors.StageFetch, f.Path, err)
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, errors.Load(errors.StageFetch, "open "+f.Path, err)
	}
	defer fh.Close()

	return readCapped(fh, f.Path, f.MaxBytes)
}

// HTTP downloads the binary with a GET request.
type HTTP struct {
	Client   *http.Client
	URL      string
	MaxBytes int64
}

func (h *HTTP) Location() string { return h.URL }

func (h *HTTP) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, errors.Load(errors.StageFetch, "build request", err)
	}
	req.Header.Set("Accept", "application/wasm")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Load(errors.StageFetch, "GET "+h.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errors.KindLoad, errors.StageFetch).
			Resource(h.URL).
			Detail("unexpected status %s", resp.Status).
			Build()
	}
	if resp.ContentLength > 0 && h.MaxBytes > 0 && resp.ContentLength > h.MaxBytes {
		return nil, tooLarge(h.URL, h.MaxBytes)
	}

	return readCapped(resp.Body, h.URL, h.MaxBytes)
}

// Static serves an in-memory binary, such as one embedded with go:embed.
type Static struct {
	Name string
	Data []byte
}

// Bytes returns a Source over data.
func Bytes(name string, data []byte) *Static {
	return &Static{Name: name, Data: data}
}

func (s *Static) Location() string { return s.Name }

func (s *Static) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Load(errors.StageFetch, s.Name, err)
	}
	return bytes.Clone(s.Data), nil
}

func readCapped(r io.Reader, location string, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Load(errors.StageFetch, "read "+location, err)
	}
	if int64(len(data)) > limit {
		return nil, tooLarge(location, limit)
	}
	return data, nil
}

func tooLarge(location string, limit int64) error {
	return errors.New(errors.KindLoad, errors.StageValidate).
		Resource(location).
		Detail("binary exceeds %d bytes", limit).
		Build()
}
