package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SampleWorkflow is a baseline definition used across serializer, store and
// git sync tests.
const SampleWorkflow = `
version: "1.0"
workflow:
  name: csv_to_parquet
  description: Convert landed CSV files to parquet
  schedule: "0 * * * *"
  is_active: true
tasks:
  - name: list_files
    execution_mode: inline
    python_callable: |
      def run(**context):
          return ["a.csv", "b.csv"]
    params:
      bucket: raw
    retry_count: 1
    retry_delay: 60
  - name: convert
    execution_mode: git
    git_repository: https://example.com/data/converters.git
    git_branch: main
    script_path: convert/csv2pq.py
    function_name: convert
    docker_image: python:3.11-slim
    dependencies: [list_files]
  - name: publish
    execution_mode: git
    git_repository: https://example.com/data/converters.git
    git_commit_sha: 0123456789abcdef0123456789abcdef01234567
    script_path: publish/upload.py
    function_name: upload
    dependencies: [convert]
`

// OpenTestDB returns an in-memory sqlite DB with migrations applied.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	// shared-cache sqlite reports SQLITE_LOCKED under concurrent writers
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return db
}

// CloseDB closes the underlying sql.DB if available.
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AssertCount asserts a count for the provided model using the supplied DB.
func AssertCount(tb testing.TB, db *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}
