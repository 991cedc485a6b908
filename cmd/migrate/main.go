package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/creatorfund/backend/internal/config"
	"github.com/creatorfund/backend/internal/database"
	"github.com/creatorfund/backend/internal/database/migrations"
	"github.com/creatorfund/backend/internal/logger"
)

func main() {
	rollback := flag.Bool("rollback", false, "revert the most recent migration instead of migrating up")
	list := flag.Bool("list", false, "print the registered migrations and exit")
	flag.Parse()

	if *list {
		for _, id := range migrations.IDs() {
			fmt.Println(id)
		}
		return
	}

	cfg := config.LoadConfig()
	log := logger.New(os.Stdout, cfg.Environment)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close(db)

	if *rollback {
		if err := migrations.RollbackLast(db); err != nil {
			log.WithError(err).Fatal("Rollback failed")
		}
		log.Info("Rolled back last migration")
		return
	}

	if err := migrations.RunMigrations(db); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}
	log.WithField("migrations", len(migrations.IDs())).Info("Database is up to date")
}
