//cmd/seeder/main.go
package main

import (
	"flag"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/unclebandit/broadcast-dispatcher/internal/config"
	"github.com/unclebandit/broadcast-dispatcher/internal/db"
	"github.com/unclebandit/broadcast-dispatcher/internal/logger"
)

func main() {
	migrationsDir := flag.String("migrations", "migrations", "directory of schema files")
	seedDir := flag.String("seed", "seed", "directory of optional seed files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	files, err := sqlFiles(*migrationsDir)
	if err != nil {
		log.WithError(err).Fatal("failed to list migrations")
	}
	seeds, err := sqlFiles(*seedDir)
	if err != nil && !os.IsNotExist(err) {
		log.WithError(err).Fatal("failed to list seed files")
	}
	files = append(files, seeds...)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.WithError(err).Fatalf("failed to read %s", file)
		}
		if _, err := conn.Exec(string(content)); err != nil {
			log.WithError(err).Fatalf("failed to execute %s", file)
		}
		log.WithField("file", file).Info("Applied")
	}

	log.Info("Database seeding completed successfully!")
}

// sqlFiles lists dir/*.sql in name order.
func sqlFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
