package main

import "tools.zach/dev/livestatus/internal/paths"

// DataPaths lets daemon code build data directory paths without qualifying
// the internal package name.
type DataPaths = paths.DataDir
