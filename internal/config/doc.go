// Package config loads and validates luaflow's TOML configuration and
// watches it for live reloads.
//
// Configuration is split into sections. The watcher reloads the file on
// change, diffs the result against the previous configuration, and reports
// which sections are dirty so the host can apply only what changed.
package config
