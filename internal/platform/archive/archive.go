// Package archive stores finished backtest results as JSON files, in a
// Supabase Storage bucket when one is configured and under DATA_DIR otherwise.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"signalboard/internal/config"
	"signalboard/internal/logger"

	"github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"
)

const (
	// Folder is the bucket folder and the DATA_DIR subdirectory used for
	// archived results.
	Folder = "backtests"

	signedURLSeconds = 24 * 60 * 60
)

// Location says where an archived result ended up.
type Location struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
	URL     string `json:"url"`
}

type Store struct {
	log            *logger.Logger
	cfg            config.Config
	supabaseClient *supabase.Client
	http           *http.Client
	now            func() time.Time
}

// New returns a Store for cfg. Production requires the Supabase settings.
func New(cfg config.Config) (*Store, error) {
	s := &Store{
		log:  logger.New("Archive"),
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		now:  func() time.Time { return time.Now().UTC() },
	}

	if cfg.AppEnv == "production" && !s.supabaseConfigured() {
		return nil, fmt.Errorf("production environment requires Supabase configuration: SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY and SUPABASE_STORAGE_BUCKET must be set")
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
		if err != nil {
			if cfg.AppEnv == "production" {
				return nil, fmt.Errorf("initialize Supabase client: %w", err)
			}
			s.log.LogWarnf("failed to initialize Supabase client, archiving locally: %v", err)
		} else {
			s.supabaseClient = client
		}
	}
	return s, nil
}

func (s *Store) supabaseConfigured() bool {
	return s.cfg.SupabaseURL != "" && s.cfg.SupabaseServiceKey != "" && s.cfg.SupabaseBucket != ""
}

// Remote reports whether results go to Supabase.
func (s *Store) Remote() bool {
	return s.supabaseClient != nil && s.supabaseConfigured()
}

// Save writes data under a timestamped name derived from name.
func (s *Store) Save(ctx context.Context, name string, data []byte) (Location, error) {
	file := s.now().Format("20060102_150405") + "_" + sanitize(name) + ".json"

	if s.Remote() {
		loc, err := s.upload(ctx, file, data)
		if err == nil {
			return loc, nil
		}
		if s.cfg.AppEnv == "production" {
			return Location{}, err
		}
		s.log.LogWarnf("%v, falling back to local storage", err)
	}
	return s.saveLocal(file, data)
}

func (s *Store) upload(ctx context.Context, file string, data []byte) (Location, error) {
	bucketPath := Folder + "/" + file
	contentType := "application/json"
	if _, err := s.supabaseClient.Storage.UploadFile(s.cfg.SupabaseBucket, bucketPath, bytes.NewReader(data), storage_go.FileOptions{ContentType: &contentType}); err != nil {
		return Location{}, fmt.Errorf("upload %s to Supabase: %w", bucketPath, err)
	}
	signed, err := s.signURL(ctx, bucketPath)
	if err != nil {
		// The object is stored; callers can still find it by path.
		s.log.LogWarnf("sign %s: %v", bucketPath, err)
	}
	s.log.LogDebugf("archived %s to bucket %s", bucketPath, s.cfg.SupabaseBucket)
	return Location{Backend: "supabase", Path: bucketPath, URL: signed}, nil
}

// signURL asks the storage REST API directly for a signed download URL.
func (s *Store) signURL(ctx context.Context, objectPath string) (string, error) {
	base := strings.TrimRight(s.cfg.SupabaseURL, "/")
	signURL := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", base, s.cfg.SupabaseBucket, objectPath)

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(map[string]int{"expiresIn": signedURLSeconds}); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signURL, buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.SupabaseServiceKey)
	req.Header.Set("apikey", s.cfg.SupabaseServiceKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", err
	}
	path := signed.SignedURL
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasPrefix(path, "/storage/v1") {
		path = "/storage/v1" + path
	}
	return base + path, nil
}

func (s *Store) saveLocal(file string, data []byte) (Location, error) {
	dir := filepath.Join(s.cfg.DataDir, Folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Location{}, fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Location{}, fmt.Errorf("write archive: %w", err)
	}
	return Location{Backend: "local", Path: path, URL: "/files/" + Folder + "/" + file}, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func sanitize(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = strings.Trim(s, "_")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "result"
	}
	return s
}
