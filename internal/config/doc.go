// Package config loads and watches the pagewatch configuration file.
//
// Top-level types:
//   - Config{LogLevel, Source, Pipeline, Server}: the full tree parsed from YAML
//   - SourceConfig: base_url, org, per_page, page, request_timeout, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, username, password_env. Key(), Token() and
//     Password() resolve secrets from environment variables
//   - PipelineConfig: refresh_interval (0 disables), on_error (retain|clear)
//   - ServerConfig: http_port, grpc_port, auth, cache.ttl, ws.interval
//
// Load(path) reads the YAML file, applies defaults (api.github.com, 5 per
// page, 10s refresh, ports 8080/50051), then validates required fields and
// enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. Source.Page is the value the running
// pipeline follows, so editing it re-triggers a fetch.
package config
