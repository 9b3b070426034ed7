// Command migrate applies the SQL files under migrations/ in lexical order,
// each in its own transaction. With --list it prints the public tables
// instead, which is enough to eyeball a fresh database.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/seplitza/backend-rejuvena/internal/pkg/logger"
)

func main() {
	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := openDB()
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if listOnly {
		err = listTables(db)
	} else {
		err = applyDir(db, dir)
	}
	if err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func listTables(db *sql.DB) error {
	rows, err := db.Query(
		"SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename")
	if err != nil {
		return err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	logger.Info("public tables", "count", len(names), "tables", strings.Join(names, ", "))
	return nil
}

// applyDir runs every .sql file in dir, sorted by name. A failing file is
// rolled back and reported but does not stop the remaining files.
func applyDir(db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	applied, failed := 0, 0
	for _, name := range files {
		if err := applyFile(db, filepath.Join(dir, name)); err != nil {
			logger.Error("migration failed", "file", name, "error", err)
			failed++
			continue
		}
		logger.Info("migration applied", "file", name)
		applied++
	}
	logger.Info("migrations done", "applied", applied, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d migrations failed", failed, len(files))
	}
	return nil
}

func applyFile(db *sql.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(data)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
