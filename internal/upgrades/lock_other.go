//go:build !unix

package upgrades

import "sync"

var fileLocks sync.Map

// lockFile serializes updates within this process only
func lockFile(path string) (func(), error) {
	v, _ := fileLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}
