// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package datavault

import (
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

// record is one locked data vault entry.
type record struct {
	Layer int    `gorm:"primaryKey;autoIncrement:false"`
	Entry int    `gorm:"primaryKey;autoIncrement:false"`
	Value []byte `gorm:"not null"`
}

func (record) TableName() string { return "data_vault" }

// DB is a Store persisted in SQLite, so that a simulated device keeps its
// data vault across separate simulator invocations until the next cold
// reset.
type DB struct {
	db *gorm.DB
}

// OpenDB opens, creating if needed, the store at path. Use ":memory:" for
// a private in-memory database.
func OpenDB(path string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data vault %q: %v", path, err)
	}
	// Every connection to ":memory:" would see its own database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open data vault %q: %v", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate data vault %q: %v", path, err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Put implements Store.
func (d *DB) Put(layer Layer, entry Entry, value []byte) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var existing record
		err := tx.Where("layer = ? AND entry = ?", int(layer), int(entry)).First(&existing).Error
		switch {
		case err == nil:
			return fmt.Errorf("%v entry %d: %w", layer, entry, errs.DataVaultLocked)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("%v entry %d: %v: %w", layer, entry, err, errs.DataVaultFailure)
		}
		r := record{Layer: int(layer), Entry: int(entry), Value: value}
		if err := tx.Create(&r).Error; err != nil {
			return fmt.Errorf("%v entry %d: %v: %w", layer, entry, err, errs.DataVaultFailure)
		}
		return nil
	})
}

// Get implements Store.
func (d *DB) Get(layer Layer, entry Entry) ([]byte, bool, error) {
	var r record
	err := d.db.Where("layer = ? AND entry = ?", int(layer), int(entry)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%v entry %d: %v: %w", layer, entry, err, errs.DataVaultFailure)
	}
	return r.Value, true, nil
}

// Reset implements Store.
func (d *DB) Reset() error {
	if err := d.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&record{}).Error; err != nil {
		return fmt.Errorf("%v: %w", err, errs.DataVaultFailure)
	}
	return nil
}
