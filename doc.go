// Package corpora is the Go client for the Corpora retrieval API.
//
// The client wraps every endpoint of the HTTP API (query, streaming
// query, ingestion, feedback, API key management, analytics, health)
// behind typed methods, and carries the cross-cutting behaviour the
// backend expects from a well-behaved consumer:
//
//   - Rate-limit cool-down. A 429 response opens a client-side window
//     sized by the Retry-After header. While the window runs, every
//     call fails fast with the same rate-limited error the live
//     response produced, without touching the network. The window
//     expires lazily; a countdown goroutine only pushes notifications.
//
//   - Credential lifecycle. One opaque API key, persisted under the
//     user's home directory with an atomic write-and-rename protected
//     by a file lock. A 401 clears the stored key and emits a single
//     session-expired notification.
//
//   - Error taxonomy. Every failure surfaces as *apierror.APIError and
//     matches exactly one sentinel (apierror.ErrNetwork,
//     apierror.ErrRateLimited, ...) through errors.Is, with a
//     French-first human message attached.
//
// A minimal round trip:
//
//	cfg := config.Default()
//	cfg.BaseURL = "https://api.corpora.ai"
//
//	client, err := corpora.NewClient(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Query(ctx, "Comment indexer un PDF ?", corpora.WithTopK(3))
//	if err != nil {
//		var apiErr *apierror.APIError
//		if errors.As(err, &apiErr) && errors.Is(err, apierror.ErrRateLimited) {
//			log.Printf("retry in %s", apiErr.RetryAfter)
//		}
//		return err
//	}
//	fmt.Println(resp.Answer)
//
// All blocking methods take a context.Context and honour cancellation.
// The zero Client is not usable; always construct one with NewClient.
package corpora
