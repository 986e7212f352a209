package models

import (
	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/utils"
)

// MigrateTable auto-migrates every table in the device-local store.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Product{},
		&Expense{},
		&CashEntry{},
		&Customer{},
		&QueueEntry{},
		&PauseState{},
		&SyncRunState{},
	)
	utils.ErrorPanic(err)
}
