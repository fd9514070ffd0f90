package cache

// ShouldCache reports whether dir has room for estimated more bytes while
// keeping minFree bytes free. It also returns the free space found.
func ShouldCache(dir string, estimated, minFree uint64) (bool, uint64, error) {
	free, err := FreeSpace(dir)
	if err != nil {
		return false, 0, err
	}
	return free >= estimated && free-estimated >= minFree, free, nil
}
