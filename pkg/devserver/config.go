package devserver

import (
	"time"

	"github.com/astromechza/shiftsession/pkg/config"
)

type Config struct {
	Addr           string        `env:"SHIFTSESSION_DEV_ADDR"            envDefault:"localhost:8080"`
	Database       string        `env:"SHIFTSESSION_DEV_DB"              envDefault:"shiftsession.sqlite3"`
	BackupInterval time.Duration `env:"SHIFTSESSION_DEV_BACKUP_INTERVAL" envDefault:"5s"`
	DumpDir        string        `env:"SHIFTSESSION_DEV_DUMP"`
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = 5 * time.Second
	}
	return cfg, nil
}
