// SPDX-License-Identifier: MPL-2.0

// Package config handles runtime configuration using Viper with CUE as the
// file format.
//
// Values are layered: built-in defaults, then the config file
// (~/.config/stamina/config.cue or the platform equivalent, or an explicit
// path), then STAMINA_* environment variables such as STAMINA_DEPLOY_DIR or
// STAMINA_COMMAND_TIMEOUT. The file is validated against an embedded CUE
// schema (config_schema.cue).
package config
