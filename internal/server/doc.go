// Package server exposes scan capture, questionnaire stepping, and record
// reads over an HTTP JSON API.
//
// Routes are registered on a gorilla/mux router. Everything under /api and
// /metrics sits behind an optional bearer token; /healthcheck is always
// open. A flock on the data directory keeps a second server from sharing
// the same record store. Detector health is checked on demand and cached
// briefly so dashboards polling /api/detector do not hammer the analysis
// service.
package server
