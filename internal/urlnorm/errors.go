package urlnorm

import "errors"

// ErrInvalidURL is returned by Normalize when raw cannot be parsed into a
// usable absolute http(s) URL. Per spec, invalid URLs are dropped silently
// by callers — this error exists so callers can distinguish "drop" from
// other failure modes, not to be surfaced to the user.
var ErrInvalidURL = errors.New("invalid url")
