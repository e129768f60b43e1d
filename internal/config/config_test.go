package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaults() {
	cfg, err := Parse()
	s.Require().NoError(err)

	s.Equal("0.0.0.0:8080", cfg.ListenAddr())
	s.Equal(StorageMemory, cfg.StorageType)
	s.Equal(5*time.Second, cfg.OfflineGrace)
	s.Equal(5*time.Minute, cfg.IdleAfter)
	s.Equal(15*time.Minute, cfg.OfferTTL)
	s.Equal(2*time.Minute, cfg.ChallengeTTL)

	level, err := cfg.SlogLevel()
	s.Require().NoError(err)
	s.Equal(slog.LevelInfo, level)
}

func (s *ConfigSuite) TestOverrides() {
	s.T().Setenv("PLAYHUB_PORT", "9090")
	s.T().Setenv("STORAGE_TYPE", "sqlite")
	s.T().Setenv("OFFLINE_GRACE", "0s")
	s.T().Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse()
	s.Require().NoError(err)

	s.Equal(9090, cfg.Port)
	s.Equal(StorageSQLite, cfg.StorageType)
	s.Zero(cfg.OfflineGrace)
	level, err := cfg.SlogLevel()
	s.Require().NoError(err)
	s.Equal(slog.LevelDebug, level)
}

func (s *ConfigSuite) TestParseErrors() {
	s.T().Setenv("OFFER_TTL", "soon")
	_, err := Parse()
	s.Require().Error(err)
	s.Contains(err.Error(), "parse env:")
}

func (s *ConfigSuite) TestValidation() {
	cases := map[string]map[string]string{
		"unknown storage":   {"STORAGE_TYPE": "etcd"},
		"bad port":          {"PLAYHUB_PORT": "70000"},
		"negative grace":    {"OFFLINE_GRACE": "-1s"},
		"zero offer ttl":    {"OFFER_TTL": "0s"},
		"half supervisor":   {"SUPERVISOR_USERNAME": "admin"},
		"unknown log level": {"LOG_LEVEL": "chatty"},
	}
	for name, vars := range cases {
		s.Run(name, func() {
			for k, v := range vars {
				s.T().Setenv(k, v)
			}
			_, err := Parse()
			s.Error(err)
		})
	}
}

func (s *ConfigSuite) TestLoadDotenv() {
	path := filepath.Join(s.T().TempDir(), "test.env")
	s.Require().NoError(os.WriteFile(path, []byte("STORAGE_TYPE=redis\nREDIS_URL=redis://cache:6379/1\n"), 0o600))
	// godotenv.Load sets variables process-wide
	s.T().Setenv("STORAGE_TYPE", "")
	s.Require().NoError(os.Unsetenv("STORAGE_TYPE"))
	s.T().Setenv("REDIS_URL", "redis://env:6379/0")

	cfg, err := Load(path)
	s.Require().NoError(err)

	s.Equal(StorageRedis, cfg.StorageType)
	s.Equal("redis://env:6379/0", cfg.RedisURL, "environment wins over the file")
}

func (s *ConfigSuite) TestLoadMissingFileIsFine() {
	_, err := Load(filepath.Join(s.T().TempDir(), "absent.env"))
	s.NoError(err)
}
