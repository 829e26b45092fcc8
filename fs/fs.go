// Package appfs embeds the files the binaries need at runtime.
package appfs

import "embed"

//go:embed common-passwords.txt.gz migrations/*.sql templates/email/*
var FS embed.FS
