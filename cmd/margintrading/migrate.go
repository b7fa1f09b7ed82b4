package main

import (
	"MarginTrading/internal/persistence"
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back database migrations",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: migrateUp,
			},
			{
				Name:   "down",
				Usage:  "Roll back the latest migration",
				Action: migrateDown,
			},
		},
	}
}

func openMigrator(c *cli.Context) (*persistence.Migrator, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg, "migrate")

	db, err := persistence.OpenPostgres(c.Context, cfg.Postgres.DSN, 2)
	if err != nil {
		return nil, nil, err
	}
	m, err := persistence.NewMigrator(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, func() { db.Close() }, nil
}

func migrateUp(c *cli.Context) error {
	m, closeDB, err := openMigrator(c)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := m.Up(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("applied %d migration(s)\n", n)
	return nil
}

func migrateDown(c *cli.Context) error {
	m, closeDB, err := openMigrator(c)
	if err != nil {
		return err
	}
	defer closeDB()

	rolled, err := m.Down(context.Background())
	if err != nil {
		return err
	}
	if !rolled {
		fmt.Println("nothing to roll back")
		return nil
	}
	fmt.Println("rolled back 1 migration")
	return nil
}
