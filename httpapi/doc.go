// Package httpapi serves the authenticator and login endpoints over net/http.
//
//	GET  /auth       authenticator: 200 with a re-signed claims token in the
//	                 Authorization header, 200 {} when no credential is
//	                 presented, 401 {"reason"} otherwise
//	GET  /authorize  authorizer: like /auth but a credential is required
//	                 (400 without one) and the token is returned in Token
//	POST /login      form or JSON username/password; sets both session cookies
//	GET|POST /logout clears both session cookies
//	GET  /healthz    store health
//	GET  /metrics    Prometheus exposition, when a handler is supplied
package httpapi
