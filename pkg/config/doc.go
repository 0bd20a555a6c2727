// Package config loads burrow's configuration: struct defaults, then a YAML
// file, then BURROW_ environment variables. Nested keys join with an
// underscore in the environment, so reconciler.workers is
// BURROW_RECONCILER_WORKERS. List values read from the environment are
// comma separated.
package config
