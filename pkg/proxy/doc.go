// Package proxy implements the HTTP reverse proxy that masks chat
// completion requests on the way upstream and unmasks responses, both
// complete bodies and SSE streams, on the way back.
package proxy
