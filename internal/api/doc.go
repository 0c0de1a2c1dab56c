// Package api exposes the HTTP surface of VaultGuard: the streaming chat
// endpoint, admin-only vault management endpoints, health and Prometheus
// metrics. Routing uses chi.
package api
