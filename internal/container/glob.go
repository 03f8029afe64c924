package container

import "github.com/ryanuber/go-glob"

// ListFilesGlob returns every virtual path currently in the manifest that
// matches pattern. Only '*' is a wildcard (any run of characters, '/'
// included); every other character, '?' among them, matches itself.
func (c *Container) ListFilesGlob(pattern string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, p := range c.manifest.Paths() {
		if glob.Glob(pattern, p) {
			out = append(out, p)
		}
	}
	return out
}
