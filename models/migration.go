package models

import (
	"log"

	"github.com/mmdatafocus/bobsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&BulkRun{}, &BulkRunError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
