package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ghalamif/SoundMap/internal/domain"
)

func TestUploadSendsMultipartForm(t *testing.T) {
	type received struct {
		user, location, filename string
		audio                    []byte
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		got <- received{
			user:     r.FormValue("username"),
			location: r.FormValue("location"),
			filename: hdr.Filename,
			audio:    data,
		}
		w.Write([]byte("stored\n"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "jo_1700000000000.wav")
	if err := os.WriteFile(path, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	u, err := NewHTTPUploader(Config{URL: srv.URL + "/upload"})
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	reply, err := u.Upload(context.Background(), path, "jo", domain.GeoPoint{Latitude: 45.5, Longitude: -73.57})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if reply != "stored" {
		t.Fatalf("unexpected reply %q", reply)
	}

	r := <-got
	if r.user != "jo" || r.location != "lat/lng: (45.5,-73.57)" {
		t.Fatalf("unexpected fields %+v", r)
	}
	if r.filename != "jo_1700000000000.wav" || string(r.audio) != "RIFFdata" {
		t.Fatalf("unexpected audio part %q %q", r.filename, r.audio)
	}
}

func TestUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.wav")
	os.WriteFile(path, []byte("x"), 0o644)

	u, _ := NewHTTPUploader(Config{URL: srv.URL})
	if _, err := u.Upload(context.Background(), path, "jo", domain.GeoPoint{}); !errors.Is(err, domain.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
}

func TestUploadMissingFile(t *testing.T) {
	u, _ := NewHTTPUploader(Config{URL: "http://127.0.0.1:1/upload"})
	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "jo", domain.GeoPoint{})
	if !errors.Is(err, domain.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewHTTPUploader(Config{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}
