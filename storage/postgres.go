package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type PostgresInfo struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

func NewPostgres(info PostgresInfo) (*SQL, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", info.Host, info.Port, info.User, info.Password, info.Database)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach postgres: %w", err)
	}

	s := &SQL{db: db, dialect: postgres}
	if err := s.migrate(migrations); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}
