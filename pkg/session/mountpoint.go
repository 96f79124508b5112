package session

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// checkMountpoint applies the preflight checks: the path must exist, be a
// directory, and not already carry a mount. A non-empty directory is
// legal but usually a mistake, so it is logged rather than refused.
func (s *Session) checkMountpoint(path string) error {
	if path == "" {
		return fmt.Errorf("session: empty mountpoint")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("session: mountpoint %s does not exist", path)
		}
		return fmt.Errorf("session: mountpoint %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("session: mountpoint %s is not a directory", path)
	}
	if entries, err := os.ReadDir(path); err == nil && len(entries) > 0 {
		s.log.Warn("mountpoint is not empty", map[string]interface{}{
			"mountpoint": path,
		})
	}
	if mounted, err := alreadyMounted(path); err == nil && mounted {
		return fmt.Errorf("session: mountpoint %s is already mounted", path)
	}
	return nil
}

// alreadyMounted scans the mount table for path. Hosts without a readable
// mount table report not mounted.
func alreadyMounted(path string) (bool, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false, err
	}
	defer f.Close()

	clean := filepath.Clean(path)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == clean {
			return true, nil
		}
	}
	return false, sc.Err()
}
