package database

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

type Database struct {
	db     *gorm.DB
	txOpts *sql.TxOptions
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction выполняет fn в одной транзакции; внутри fn все запросы идут через tx
func (d *Database) Transaction(ctx context.Context, fn func(tx *Database) error) error {
	txFn := func(tx *gorm.DB) error {
		return fn(&Database{db: tx, txOpts: d.txOpts})
	}
	var err error
	if d.txOpts != nil {
		err = d.db.WithContext(ctx).Transaction(txFn, d.txOpts)
	} else {
		err = d.db.WithContext(ctx).Transaction(txFn)
	}
	return mapError(err)
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
