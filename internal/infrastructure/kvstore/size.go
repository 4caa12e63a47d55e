package kvstore

// EstimateSize approximates the storage cost of one entry as twice the UTF-8 byte length
// of key and value. Multi-byte text is counted high. It is a heuristic for soft quota
// management and is not authoritative, since real stores rarely expose usage.
func EstimateSize(key, value string) int64 {
	return int64(len(key)+len(value)) * 2
}
