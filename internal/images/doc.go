// Package images stores captured scan images under the configured image
// directory. Uploads are size limited, must decode as JPEG or PNG, and are
// always persisted as <id>.jpg so the analysis service receives JPEG bytes.
package images
