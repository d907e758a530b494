package storage

// append only, both dialects run the same list
var migrations = []string{
	`CREATE TABLE channel (
id VARCHAR(255) PRIMARY KEY,
name VARCHAR(255) NOT NULL DEFAULT '',
watermark BIGINT NOT NULL DEFAULT 0,
updated_at BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE transcript (
video_id VARCHAR(255) PRIMARY KEY,
text TEXT NOT NULL,
source VARCHAR(32) NOT NULL,
acquired_at BIGINT NOT NULL
)`,
	`CREATE TABLE video_failure (
video_id VARCHAR(255) PRIMARY KEY,
channel_id VARCHAR(255) NOT NULL,
failures INTEGER NOT NULL DEFAULT 0,
last_error TEXT NOT NULL DEFAULT '',
updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE delivery (
video_id VARCHAR(255) PRIMARY KEY,
channel_id VARCHAR(255) NOT NULL,
run_id VARCHAR(36) NOT NULL,
delivered_at BIGINT NOT NULL
)`,
	`CREATE TABLE run (
id VARCHAR(36) PRIMARY KEY,
started_at BIGINT NOT NULL,
finished_at BIGINT NOT NULL DEFAULT 0,
status VARCHAR(32) NOT NULL,
entries INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE INDEX delivery_channel_idx ON delivery (channel_id)`,
}
