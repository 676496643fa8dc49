// Package main hosts the movieindex command.
//
// A run walks every configured listing source in order, turns each hyperlink
// into a canonical title, resolves unseen titles against the OMDb-compatible
// provider, then filters the catalog by genre, ranks it by IMDb rating and
// writes a pipe-delimited report.
//
// Operational notes:
//   - Configuration: flags override MOVIEINDEX_* environment variables, which
//     override the optional YAML file passed with --config.
//   - Destinations: a plain path writes a local file; gs://bucket/object
//     uploads through Cloud Storage using application default credentials.
//   - Observability: zap logs carry the run ID; progress events feed
//     Prometheus collectors that can be dumped to metrics.textfile for a
//     node_exporter textfile collector.
//   - Signals: SIGINT/SIGTERM cancel the run between items and nothing is
//     exported.
//
// Example:
//
//	MOVIEINDEX_PROVIDER_API_KEY=... movieindex \
//	  --source http://media.local/tv/ --source http://media.local/movies/ \
//	  --genre drama --output gs://reports/movielist.csv
package main
