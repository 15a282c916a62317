// Package fileutil holds the small filesystem helpers shared by the artifact
// cache and the server config writer: directory creation and atomic
// temp-file-then-rename writes, so readers never observe a half-written
// completion marker, config file or imported binary.
package fileutil
