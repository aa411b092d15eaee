//
//  internal/requestinfo/requestinfo.go
//
//  Lightweight per-request metadata: client IP, URL, request id, and
//  timestamp.  The struct is inert, so it is safe to log or JSON-encode.
//  The audit trail records IP from here.
//

package requestinfo

import (
	"context"
	"net"
	"net/url"
	"time"
)

//
//  -----------------------------
//  Struct definitions
//  -----------------------------
//

// RequestInfo is attached to the request context by Enrich.
type RequestInfo struct {
	ID        string   // Request id, also the audit operation id prefix
	IP        net.IP   // Left-most client address
	URL       *url.URL // Pointer copy, safe to dereference read-only
	Timestamp time.Time
}

//
//  -----------------------------
//  Public helpers
//  -----------------------------
//

type ctxKey struct{} // unexported, collision-proof

// FromContext returns the pointer previously stored by Enrich.
// It returns nil if the middleware has not run.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

// ClientIP returns the client address as text, or "" when unknown.
func ClientIP(ctx context.Context) string {
	if info := FromContext(ctx); info != nil && info.IP != nil {
		return info.IP.String()
	}
	return ""
}

// RequestID returns the request id, or "" when Enrich has not run.
func RequestID(ctx context.Context) string {
	if info := FromContext(ctx); info != nil {
		return info.ID
	}
	return ""
}
