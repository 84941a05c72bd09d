package signal

import "embed"

// ViewerHTML holds the browser viewer page
//
//go:embed viewer.html
var ViewerHTML embed.FS
