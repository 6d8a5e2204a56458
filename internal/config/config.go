package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr        = "127.0.0.1:8080"
	defaultRefreshDebounceMS = 500
	defaultProbeTimeoutMS    = 5000
	defaultUserAgent         = "station-check/1.0"
	defaultMPDAddr           = "localhost:6600"
	defaultPlaylist          = "all_stations"
	defaultVolume            = 60
)

var defaultExtensions = []string{".m3u"}

// Settings is the resolved configuration of every command.
type Settings struct {
	StationsDir     string
	Extensions      []string
	ProbeTimeout    time.Duration
	UserAgent       string
	JournalPath     string
	MusicDir        string
	ListenAddr      string
	RefreshDebounce time.Duration
	TokenFile       string
	MPDNetwork      string
	MPDAddr         string
	MPDPassword     string
	SessionFile     string
	DefaultPlaylist string
	DefaultVolume   int
}

type fileSettings struct {
	StationsDir       string   `yaml:"stations_dir"`
	Extensions        []string `yaml:"extensions"`
	ProbeTimeoutMS    *int     `yaml:"probe_timeout_ms"`
	UserAgent         string   `yaml:"user_agent"`
	Journal           string   `yaml:"journal"`
	MusicDir          string   `yaml:"music_dir"`
	ListenAddr        string   `yaml:"listen_addr"`
	RefreshDebounceMS *int     `yaml:"refresh_debounce_ms"`
	TokenFile         string   `yaml:"token_file"`
	MPD               struct {
		Network  string `yaml:"network"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"mpd"`
	SessionFile     string `yaml:"session_file"`
	DefaultPlaylist string `yaml:"default_playlist"`
	DefaultVolume   *int   `yaml:"default_volume"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() (Settings, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		StationsDir:     filepath.Join(cwd, "stations"),
		Extensions:      append([]string(nil), defaultExtensions...),
		ProbeTimeout:    defaultProbeTimeoutMS * time.Millisecond,
		UserAgent:       defaultUserAgent,
		ListenAddr:      defaultListenAddr,
		RefreshDebounce: defaultRefreshDebounceMS * time.Millisecond,
		MPDNetwork:      "tcp",
		MPDAddr:         defaultMPDAddr,
		DefaultPlaylist: defaultPlaylist,
		DefaultVolume:   defaultVolume,
	}

	if home, err := os.UserHomeDir(); err == nil {
		s.MusicDir = filepath.Join(home, "Music")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		s.SessionFile = filepath.Join(dir, "station-check", "session.yaml")
	}
	return s, nil
}

// Load resolves the settings from defaults, the YAML file at configPath (or
// STATION_CONFIG when configPath is empty) and STATION_* environment
// variables, in that order.
func Load(configPath string) (Settings, error) {
	s, err := Defaults()
	if err != nil {
		return Settings{}, err
	}

	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv("STATION_CONFIG"))
	}
	if configPath != "" {
		if err := s.applyFile(expandPath(configPath)); err != nil {
			return Settings{}, err
		}
	}

	s.applyEnv()

	if s.StationsDir, err = absPath(s.StationsDir); err != nil {
		return Settings{}, err
	}
	for _, p := range []*string{&s.MusicDir, &s.JournalPath, &s.TokenFile, &s.SessionFile} {
		if *p == "" {
			continue
		}
		if *p, err = absPath(*p); err != nil {
			return Settings{}, err
		}
	}

	if s.DefaultVolume < 0 || s.DefaultVolume > 100 {
		return Settings{}, fmt.Errorf("default volume %d out of range 0..100", s.DefaultVolume)
	}
	return s, nil
}

func (s *Settings) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var f fileSettings
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&s.StationsDir, f.StationsDir)
	if len(f.Extensions) > 0 {
		s.Extensions = normalizeExtensions(f.Extensions)
	}
	if f.ProbeTimeoutMS != nil && *f.ProbeTimeoutMS > 0 {
		s.ProbeTimeout = time.Duration(*f.ProbeTimeoutMS) * time.Millisecond
	}
	setString(&s.UserAgent, f.UserAgent)
	setString(&s.JournalPath, f.Journal)
	setString(&s.MusicDir, f.MusicDir)
	setString(&s.ListenAddr, f.ListenAddr)
	if f.RefreshDebounceMS != nil && *f.RefreshDebounceMS >= 0 {
		s.RefreshDebounce = time.Duration(*f.RefreshDebounceMS) * time.Millisecond
	}
	setString(&s.TokenFile, f.TokenFile)
	setString(&s.MPDNetwork, f.MPD.Network)
	setString(&s.MPDAddr, f.MPD.Addr)
	setString(&s.MPDPassword, f.MPD.Password)
	setString(&s.SessionFile, f.SessionFile)
	setString(&s.DefaultPlaylist, f.DefaultPlaylist)
	if f.DefaultVolume != nil {
		s.DefaultVolume = *f.DefaultVolume
	}
	return nil
}

func (s *Settings) applyEnv() {
	setString(&s.StationsDir, os.Getenv("STATION_DIR"))
	if value := strings.TrimSpace(os.Getenv("STATION_EXTENSIONS")); value != "" {
		s.Extensions = normalizeExtensions(strings.Split(value, ","))
	}
	if ms, ok := envInt("STATION_PROBE_TIMEOUT_MS"); ok && ms > 0 {
		s.ProbeTimeout = time.Duration(ms) * time.Millisecond
	}
	setString(&s.UserAgent, os.Getenv("STATION_USER_AGENT"))
	setString(&s.JournalPath, os.Getenv("STATION_JOURNAL"))
	setString(&s.MusicDir, os.Getenv("STATION_MUSIC_DIR"))
	setString(&s.ListenAddr, os.Getenv("STATION_LISTEN_ADDR"))
	if ms, ok := envInt("STATION_REFRESH_DEBOUNCE_MS"); ok && ms >= 0 {
		s.RefreshDebounce = time.Duration(ms) * time.Millisecond
	}
	setString(&s.TokenFile, os.Getenv("STATION_TOKEN_FILE"))
	setString(&s.MPDNetwork, os.Getenv("STATION_MPD_NETWORK"))
	setString(&s.MPDAddr, os.Getenv("STATION_MPD_ADDR"))
	setString(&s.MPDPassword, os.Getenv("STATION_MPD_PASSWORD"))
	setString(&s.SessionFile, os.Getenv("STATION_SESSION_FILE"))
	setString(&s.DefaultPlaylist, os.Getenv("STATION_DEFAULT_PLAYLIST"))
	if v, ok := envInt("STATION_DEFAULT_VOLUME"); ok {
		s.DefaultVolume = v
	}
}

// ValidateListenAddr ensures the configured listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

// ResolveTokenFile makes sure the configured token file exists, creating an
// empty one with private permissions. The second return value is false when
// no token file is configured.
func ResolveTokenFile(path string) (string, bool, error) {
	if path == "" {
		return "", false, nil
	}

	abs, err := absPath(path)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", false, err
	}

	file, err := os.OpenFile(abs, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return "", false, err
	}
	if err := file.Close(); err != nil {
		return "", false, err
	}
	return abs, true, nil
}

func normalizeExtensions(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !strings.HasPrefix(v, ".") {
			v = "." + v
		}
		result = append(result, v)
	}
	return result
}

func envInt(key string) (int, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func absPath(path string) (string, error) {
	return filepath.Abs(expandPath(path))
}
