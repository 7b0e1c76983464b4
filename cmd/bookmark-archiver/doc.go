// Package main hosts the bookmark-archiver entrypoint.
//
// Architecture overview:
//   - Configuration: internal/config loads token, output_folder and log_folder (all mandatory) plus renderer,
//     Pinboard, pipeline, mirror and metrics settings from a YAML file, the environment (ARCHIVER_ prefix) and an
//     optional .env file.
//   - Pipeline: internal/archiver runs one pass per invocation. It replays the retry ledger (SQLite, retries.db)
//     for URLs that failed fewer than three times, fetches bookmarks created after the fetch cursor (last_run.txt),
//     and archives them oldest first, recording each outcome and advancing the cursor after every bookmark.
//   - Rendering: internal/dispatch runs an external renderer command with a 240s deadline in its own process
//     group, or drives headless Chrome in-process via chromedp. Artifacts are named <hash>.<format> and may be
//     mirrored to a GCS bucket.
//   - Logging: zap writes JSON lines to archiver.log and archiver_error.log under log_folder; --verbose mirrors
//     progress to the terminal and --debug dumps bookmark records.
//
// Operational notes:
//   - Run it from cron or a systemd timer. Two concurrent runs against the same log_folder are not supported.
//   - SIGINT/SIGTERM stop the run before the next bookmark; committed progress is kept. When attached to a
//     terminal, a short pause after each archive gives the operator a window to interrupt.
//   - --cleanup removes the log files and the retry store and exits without touching the cursor.
//   - When metrics.textfile is set, run metrics are written for the node_exporter textfile collector.
package main
