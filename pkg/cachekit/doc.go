// Package cachekit is a client-side REST data cache and synchronization
// engine: a query cache with identity-aware deduplication, a four-phase
// fetch pipeline for single objects, pages, and paginated lists, a write
// propagation engine that keeps every matching cached query in sync after
// an insert/update/delete, and an authentication coordinator that
// multiplexes concurrent 401 challenges onto a single credential prompt.
//
// cachekit does not ship an HTTP server or a generated REST client for any
// particular API: it wraps whatever JSON REST backend you point it at,
// following the server contract described below.
//
// # Server contract
//
// Item endpoints return a JSON object with an "id" or "url" field on GET,
// accept the same shape on POST/PUT, and return 204 on DELETE. Collection
// endpoints return either a bare JSON array (the complete, unpaginated
// list) or an object {"count": N, "results": [...], "next": "url-or-null"}
// (one page of a paginated list). A login endpoint accepts credentials and
// returns {"key": "..."}.
//
// # Constructing a client
//
//	cfg := cachekit.DefaultConfig()
//	cfg.BaseURL = "https://api.example.com/"
//
//	client := cachekit.NewClient(cfg,
//	    cachekit.WithLogger(slog.Default()),
//	    cachekit.WithHooks(cachekit.NewSlogHooks(slog.Default())),
//	)
//
// # Reading
//
//	q, err := client.FetchOne(ctx, "https://api.example.com/widgets/42/", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	widget := q.Object()
//
//	list, err := client.FetchList(ctx, "https://api.example.com/widgets/", nil)
//	widgets := list.Objects()
//
// A query's Expired method reports whether its data is stale. Reading an
// expired query re-fetches it before returning; the last known value is
// not served while that refresh is in flight.
//
// # Writing
//
//	_, err := client.InsertOne(ctx, "https://api.example.com/widgets/", map[string]any{
//	    "name": "gadget",
//	})
//
// Every cached query whose folder matches the write is updated according to
// its propagation hooks (Refresh, Replace, Unshift, Push, Remove, or a
// Custom function) — see [QueryOptions] and [Hook].
//
// # Authentication
//
//	client.OnAuthentication(func(ev *cachekit.AuthenticationEvent) {
//	    go func() {
//	        token, _ := client.Authenticate(ctx, loginURL, credentials, []string{baseURL})
//	        _ = token
//	    }()
//	})
//
// A 401 response triggers an authentication event; concurrent requests for
// the same URL share one challenge and one resolution.
//
// # Error handling
//
//	_, err := client.FetchOne(ctx, url, nil)
//	var sdkErr *cachekit.Error
//	if errors.As(err, &sdkErr) {
//	    switch sdkErr.Code {
//	    case cachekit.CodeHTTP:
//	        // inspect sdkErr.HTTPStatus / sdkErr.StatusText
//	    case cachekit.CodeTransport:
//	        // network-level failure
//	    }
//	}
//
// Batch operations (InsertMultiple, UpdateMultiple, DeleteMultiple) return a
// *BatchError with per-item Results and Errors slices aligned to the input,
// alongside the first error encountered.
//
// # Thread safety
//
// Client, and every value it hands out (*Query, the event emitter), is safe
// for concurrent use by multiple goroutines.
package cachekit

// Version is the current module version, included in the default
// User-Agent header.
const Version = "0.1.0"
