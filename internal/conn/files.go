package conn

import "os"

// regularFileExists reports whether path exists and is a regular file;
// directories and other special files are treated as absent, matching the
// DELETE and upload-overwrite checks' "refuse anything that isn't a
// plain file" rule.
func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func removeFile(path string) error {
	return os.Remove(path)
}
