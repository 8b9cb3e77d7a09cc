// Package config loads and validates ClearSkin configuration.
//
// Configuration is read from TOML (default ~/.config/clearskin/config.toml or
// ./clearskin.toml), layered over Default(), normalized (tilde expansion and
// environment fallbacks) and validated before use. CreateSample writes the
// embedded sample file for `clearskin config init`.
package config
