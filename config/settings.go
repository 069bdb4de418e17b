package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings is the full on-disk configuration document.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Dropbox  DropboxSettings  `json:"dropbox"`
	Library  LibrarySettings  `json:"library"`
	History  HistorySettings  `json:"history"`
	Playback PlaybackSettings `json:"playback"`
	Cache    CacheSettings    `json:"cache"`
	Log      LogSettings      `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DropboxSettings struct {
	AppKey       string `json:"appKey"`
	AppSecret    string `json:"appSecret"`
	RefreshToken string `json:"refreshToken"`
}

type LibrarySettings struct {
	RootPath        string   `json:"rootPath"`
	MoviesPath      string   `json:"moviesPath"`
	SeriesPath      string   `json:"seriesPath"`
	VideoExtensions []string `json:"videoExtensions"`
}

type HistorySettings struct {
	RemotePath      string `json:"remotePath"`
	ThrottleSeconds int    `json:"throttleSeconds"`
}

type PlaybackSettings struct {
	CommitIntervalSeconds int `json:"commitIntervalSeconds"`
}

type CacheSettings struct {
	Directory string `json:"directory"`
}

type LogSettings struct {
	File       string `json:"file"`
	MaxSizeMB  int    `json:"maxSizeMb"`
	MaxAgeDays int    `json:"maxAgeDays"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration written on first run.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 8280},
		Library: LibrarySettings{
			RootPath:        "",
			MoviesPath:      "/Movies",
			SeriesPath:      "/TV",
			VideoExtensions: []string{".mp4", ".mkv", ".avi", ".mov", ".m4v", ".webm"},
		},
		History: HistorySettings{
			RemotePath:      "/.cloudplay/watch_history.json",
			ThrottleSeconds: 3,
		},
		Playback: PlaybackSettings{CommitIntervalSeconds: 3},
		Cache:    CacheSettings{Directory: "cache"},
		Log: LogSettings{
			File:       "logs/cloudplay.log",
			MaxSizeMB:  25,
			MaxAgeDays: 14,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// Manager loads and saves the settings document at a fixed path.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the settings file, creating it with defaults when missing.
// Fields absent from an existing file are backfilled with defaults so old
// config files keep working across upgrades.
func (m *Manager) Load() (Settings, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		settings := DefaultSettings()
		if err := m.Save(settings); err != nil {
			return Settings{}, fmt.Errorf("write default settings: %w", err)
		}
		return settings, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", m.path, err)
	}
	backfill(&settings)
	return settings, nil
}

// Save writes the settings atomically via a temp file rename.
func (m *Manager) Save(settings Settings) error {
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create settings file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	return os.Rename(tmp, m.path)
}

func backfill(s *Settings) {
	defaults := DefaultSettings()
	if s.Server.Port == 0 {
		s.Server.Port = defaults.Server.Port
	}
	if s.Server.Host == "" {
		s.Server.Host = defaults.Server.Host
	}
	if s.Library.MoviesPath == "" {
		s.Library.MoviesPath = defaults.Library.MoviesPath
	}
	if s.Library.SeriesPath == "" {
		s.Library.SeriesPath = defaults.Library.SeriesPath
	}
	if len(s.Library.VideoExtensions) == 0 {
		s.Library.VideoExtensions = defaults.Library.VideoExtensions
	}
	if s.History.RemotePath == "" {
		s.History.RemotePath = defaults.History.RemotePath
	}
	if s.History.ThrottleSeconds <= 0 {
		s.History.ThrottleSeconds = defaults.History.ThrottleSeconds
	}
	if s.Playback.CommitIntervalSeconds <= 0 {
		s.Playback.CommitIntervalSeconds = defaults.Playback.CommitIntervalSeconds
	}
	if s.Cache.Directory == "" {
		s.Cache.Directory = defaults.Cache.Directory
	}
	if s.Log.File == "" {
		s.Log.File = defaults.Log.File
	}
	if s.Log.MaxSizeMB <= 0 {
		s.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}
	if s.Log.MaxAgeDays <= 0 {
		s.Log.MaxAgeDays = defaults.Log.MaxAgeDays
	}
	if s.Log.MaxBackups <= 0 {
		s.Log.MaxBackups = defaults.Log.MaxBackups
	}
}
