package main

// Drivers of the supported dialects. The postgres dialect uses lib/pq by
// default, or pgx with "driver: pgx".
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)
