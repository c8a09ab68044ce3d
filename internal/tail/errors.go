package tail

import "errors"

// ErrFileMissing is returned when the file did not appear within the open
// retry budget. The file is skipped; nothing was read.
var ErrFileMissing = errors.New("log file missing")
