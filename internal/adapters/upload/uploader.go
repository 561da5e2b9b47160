package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

const maxReplyBytes = 64 << 10

type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("upload url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("upload url %q must be an http(s) URL", c.URL)
	}
	return nil
}

// HTTPUploader posts a finished container as a multipart form with the
// fields username, location and audio.
type HTTPUploader struct {
	url    string
	http   *http.Client
	tracer trace.Tracer
}

func NewHTTPUploader(cfg Config) (*HTTPUploader, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HTTPUploader{
		url:    cfg.URL,
		http:   &http.Client{Timeout: cfg.Timeout},
		tracer: otel.Tracer("github.com/ghalamif/SoundMap/upload"),
	}, nil
}

// Upload returns the trimmed reply body. Every failure wraps domain.ErrUpload.
func (u *HTTPUploader) Upload(ctx context.Context, path, user string, loc domain.GeoPoint) (string, error) {
	ctx, span := u.tracer.Start(ctx, "upload.audio",
		trace.WithAttributes(attribute.String("user", user), attribute.String("file", filepath.Base(path))))
	defer span.End()

	reply, err := u.post(ctx, path, user, loc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return reply, nil
}

func (u *HTTPUploader) post(ctx context.Context, path, user string, loc domain.GeoPoint) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", domain.ErrUpload, path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f, filepath.Base(path), user, loc))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: POST %s: %v", domain.ErrUpload, u.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read reply: %v", domain.ErrUpload, err)
	}
	reply := strings.TrimSpace(string(raw))
	if resp.StatusCode/100 != 2 {
		return reply, fmt.Errorf("%w: status %s", domain.ErrUpload, resp.Status)
	}
	return reply, nil
}

func writeForm(mw *multipart.Writer, audio io.Reader, name, user string, loc domain.GeoPoint) error {
	if err := mw.WriteField("username", user); err != nil {
		return err
	}
	if err := mw.WriteField("location", loc.String()); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("audio", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	return mw.Close()
}

var _ ports.Uploader = (*HTTPUploader)(nil)
