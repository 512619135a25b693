package cache

// lightweight local error type to avoid importing std 'errors' for two
// sentinels.
type strErr string

func (e strErr) Error() string { return string(e) }

// ErrNoLoader is returned by ComputeIfAbsent when no loader is supplied and
// no value is already cached.
const ErrNoLoader = strErr("cache: no loader provided")

// ErrNilLoaderResult is returned by ComputeIfAbsent when loader succeeds
// but returns a nil value for a reference-typed V (pointer, interface,
// map, slice, chan, func). Spec §7: "Null value from loader: treated as a
// loader failure with a dedicated sub-kind."
const ErrNilLoaderResult = strErr("cache: loader returned a nil value")
