// Package api provides the types, interfaces, and helpers shared by the
// hosted API client.
//
// # Overview
//
// The api package defines the request and response types, the Config used
// to build a client, the TokenStorage collaborator interface, and the error
// taxonomy every failed call is normalized into. A concrete client is built
// by the client package, which wires transport, retries, credential
// injection, and refresh coordination:
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/apiclient/pkg/api"
//	  "github.com/fivetwenty-io/apiclient/pkg/client"
//	  "github.com/fivetwenty-io/apiclient/pkg/tokenstore"
//	)
//
//	func example() {
//	  store := tokenstore.NewMemory()
//	  cli, err := client.New(&api.Config{
//	    BaseURL:        "https://api.example.com",
//	    TokenStorage:   store,
//	    OnTokenRefresh: refreshTokens,
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  resp, err := cli.Get(context.Background(), "/v1/projects", nil)
//	  if err != nil { log.Fatal(err) }
//	  _ = resp
//	}
//
// # Errors
//
// Every failure is an *Error carrying an ErrorKind (AuthenticationError,
// NotFoundError, RateLimitError, ...), a message, the status code when one
// was received, and the original cause. Branch on the kind with KindOf, the
// IsNotFound family, or errors.Is against the kind sentinels:
//
//	if errors.Is(err, api.ErrRateLimit) { ... }
//
// Classify is the pure function behind this normalization and may be used
// directly on responses obtained elsewhere.
//
// # Interceptors and metrics
//
// InterceptorChain holds ordered request, retry, response, and error stages.
// The package ships stages for logging, extra headers, request IDs,
// client-side rate limiting, and circuit breaking. Metrics exposes
// Prometheus collectors for calls, retries, and refreshes.
package api
