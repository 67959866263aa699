// Package cmd implements the pricecrawl command line.
//
// Architecture overview:
//   - Catalog: stores and products from configuration expand into one job per
//     (country, store, product). Jobs of a store share one browsing session.
//   - Checkpoints: each job ends in output/<Country>/<Store>/<Product>.json.
//     A job with a file is done; re-running skips it, so an interrupted run
//     resumes where it stopped.
//   - Dispatcher & workers: one goroutine per store scope, gated by a weighted
//     semaphore (dispatcher.max_concurrent) and spaced by a launch pacer
//     (pacer.launch_interval). Inside a scope jobs run one after another.
//   - Agent: an external browsing agent process attaches to the session over
//     the Chrome devtools endpoint and answers with a JSON document. Outcomes
//     are normalized and retried within retry.max_retries; a job that never
//     yields records leaves an empty artifact.
//   - Report: the report command flattens every artifact into CSV or XLSX,
//     writes output/last_run.csv and appends it to the configured sinks
//     (Foundry dataset, GCS bucket, local archive) and the Postgres warehouse.
//
// Operational notes:
//   - Configuration comes from --config, then PRICECRAWL_* variables, then the
//     legacy names (PROXY_POOL_JSON, FOUNDRY_TOKEN, CSV_FILENAME, ...). A .env
//     file in the working directory is read first.
//   - SIGINT/SIGTERM cancel the run. Jobs in flight stay pending and are picked
//     up by the next run.
//   - With server.enabled the run serves /healthz, /readyz, /metrics, /status
//     and /v1/jobs while it lasts.
package cmd
