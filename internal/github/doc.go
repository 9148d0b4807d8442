// Package github is the upstream client behind the page pipeline.
//
// Client.Repos(ctx, page) issues GET {base}/orgs/{org}/repos?page=N&per_page=M
// and Client.Owner(ctx) issues GET {base}/users/{org}. Both honour ctx, so a
// cancelled fetch aborts the in-flight request. Non-2xx responses come back as
// *StatusError.
//
// Authentication follows config.AuthConfig: apikey, bearer and basic are added
// per request by a RoundTripper; mtls loads a client certificate (and optional
// CA bundle) into the transport's TLS config.
package github
