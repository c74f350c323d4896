// Package db embeds the checkout engine's database schema.
package db

import _ "embed"

// Schema holds the idempotent DDL for the products, orders, order_items and
// api_keys tables. Applied at startup by postgres.RunMigrations.
//
//go:embed migrations/001_schema.sql
var Schema string
